// Package sender implements the request sender (spec.md §4.7): the
// single-replica attempt unit that every strategy in package strategy
// drives. It rebases the request onto a chosen replica, runs the
// transport, classifies the outcome, records it, and feeds the ordering
// engine's learning step.
package sender

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/obiwan-smirnobi/clusterclient.core/classify"
	"github.com/obiwan-smirnobi/clusterclient.core/ordering"
	"github.com/obiwan-smirnobi/clusterclient.core/replica"
	"github.com/obiwan-smirnobi/clusterclient.core/transport"
	"github.com/obiwan-smirnobi/clusterclient.core/weight"
)

// ReplicaTransform rebases a logical request's target onto a chosen
// replica's base URL (spec.md §6's required collaborator table). It must
// be idempotent: calling it twice with the same replica must not change
// the result.
type ReplicaTransform interface {
	Transform(r replica.Replica, req replica.Request) (replica.Request, error)
}

// RebaseTransform is the default ReplicaTransform, grounded on
// Replica.ResolveRequestURL: it rewrites TargetURL to be absolute
// against the replica's base URL, leaving a already-absolute TargetURL
// unchanged.
type RebaseTransform struct{}

func (RebaseTransform) Transform(r replica.Replica, req replica.Request) (replica.Request, error) {
	url, err := r.ResolveRequestURL(req.TargetURL)
	if err != nil {
		return replica.Request{}, err
	}
	out := req
	out.TargetURL = url
	return out, nil
}

var _ ReplicaTransform = RebaseTransform{}

// Sender is the C7 collaborator: it owns everything one single-replica
// attempt needs beyond the per-request state already carried in
// reqctx.Context (which is passed into Send explicitly instead of being
// imported here, to keep this package a leaf dependency of reqctx rather
// than the reverse).
type Sender struct {
	Transport transport.Transport
	Transform ReplicaTransform
	Classify  classify.Chain
	Ordering  *ordering.Orderer
	Logger    *zap.Logger
}

// New constructs a Sender. If transform is nil, RebaseTransform{} is
// used.
func New(tr transport.Transport, transform ReplicaTransform, classifier classify.Chain, orderer *ordering.Orderer, logger *zap.Logger) *Sender {
	if transform == nil {
		transform = RebaseTransform{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{Transport: tr, Transform: transform, Classify: classifier, Ordering: orderer, Logger: logger}
}

// Accumulator is the minimal surface Send needs from reqctx.Accumulator,
// kept as an interface here so this package does not need to import
// reqctx (which itself imports transport and storage, not sender).
type Accumulator interface {
	Append(result replica.ReplicaResult)
}

// StorageAccess is re-exported from weight for caller convenience; the
// sender does not interpret it, only forwards it to the ordering chain's
// Learn step.
type StorageAccess = weight.StorageAccess

// Send performs one single-replica attempt (spec.md §4.7): rebase,
// transport, classify, record, learn. timeout is set as a deadline on the
// ctx passed to the transport; Send waits for the transport to return and
// records the verdict it reports (HTTPTransport reports TransportTimeout
// once that deadline has passed). connectTimeout, if non-zero, separately bounds connection
// establishment inside the transport via transport.WithConnectTimeout.
func (s *Sender) Send(ctx context.Context, r replica.Replica, req replica.Request, timeout, connectTimeout time.Duration, acc Accumulator, access StorageAccess) replica.ReplicaResult {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if connectTimeout > 0 {
		attemptCtx = transport.WithConnectTimeout(attemptCtx, connectTimeout)
	}

	start := time.Now()
	transformed, err := s.Transform.Transform(r, req)
	if err != nil {
		return s.finish(r, replica.Response{Verdict: replica.TransportUnknownFailure}, time.Since(start), acc, access)
	}

	resp, sendErr := s.Transport.Send(attemptCtx, transformed)
	elapsed := time.Since(start)
	if sendErr != nil {
		s.Logger.Debug("attempt failed",
			zap.String("replica", r.String()),
			zap.String("verdict", resp.Verdict.String()),
			zap.Duration("elapsed", elapsed),
			zap.Error(sendErr))
	}

	return s.finish(r, resp, elapsed, acc, access)
}

func (s *Sender) finish(r replica.Replica, resp replica.Response, elapsed time.Duration, acc Accumulator, access StorageAccess) replica.ReplicaResult {
	result := replica.ReplicaResult{
		Replica:  r,
		Response: resp,
		Verdict:  s.Classify.Classify(resp),
		Elapsed:  elapsed,
	}
	acc.Append(result)
	if s.Ordering != nil {
		s.Ordering.Learn(result, access)
	}
	return result
}
