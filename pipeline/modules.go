package pipeline

import (
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/obiwan-smirnobi/clusterclient.core/classify"
	"github.com/obiwan-smirnobi/clusterclient.core/cluster"
	"github.com/obiwan-smirnobi/clusterclient.core/clusterprovider"
	"github.com/obiwan-smirnobi/clusterclient.core/ordering"
	"github.com/obiwan-smirnobi/clusterclient.core/params"
	"github.com/obiwan-smirnobi/clusterclient.core/replica"
	"github.com/obiwan-smirnobi/clusterclient.core/reqctx"
	"github.com/obiwan-smirnobi/clusterclient.core/storage"
	"github.com/obiwan-smirnobi/clusterclient.core/strategy"
	"github.com/obiwan-smirnobi/clusterclient.core/weight"
)

// LeakPreventionModule is the outermost module: it recovers from a panic
// anywhere in the remainder of the pipeline and converts it into an
// UnexpectedException ClusterResult instead of letting it escape to the
// caller, so a bug in a user-supplied module can never leak a goroutine
// or corrupt the caller's stack.
type LeakPreventionModule struct{}

func (LeakPreventionModule) Execute(rc *reqctx.Context, next Next) (result replica.ClusterResult) {
	defer func() {
		if r := recover(); r != nil {
			result = replica.ClusterResult{
				Status:  replica.StatusUnexpectedException,
				Request: rc.Request,
				Err:     panicError{recovered: r},
			}
		}
	}()
	return next(rc)
}

type panicError struct {
	recovered any
}

func (p panicError) Error() string {
	if err, ok := p.recovered.(error); ok {
		return err.Error()
	}
	return "pipeline: recovered panic"
}

// GlobalErrorHandlingModule is the outermost error boundary
// (spec.md §4.9's edge case 6): when next returns a ClusterResult whose
// Err is set, it logs the cause and, if the status still reads Success,
// normalizes it to UnexpectedException.
type GlobalErrorHandlingModule struct {
	Logger *zap.Logger
}

func (m GlobalErrorHandlingModule) Execute(rc *reqctx.Context, next Next) replica.ClusterResult {
	result := next(rc)
	if result.Err != nil {
		if result.Status == replica.StatusSuccess {
			result.Status = replica.StatusUnexpectedException
		}
		if m.Logger != nil {
			m.Logger.Error("unhandled error in pipeline", zap.Error(result.Err))
		}
	}
	return result
}

// RequestValidationModule rejects malformed requests before any replica
// is contacted (spec.md §4.9): an empty target and, when
// RejectsStreamingWithParallelism is set, a streaming body. Body variants
// are not checked against the transport's capabilities.
type RequestValidationModule struct {
	RejectsStreamingWithParallelism bool
}

func (m RequestValidationModule) Execute(rc *reqctx.Context, next Next) replica.ClusterResult {
	if rc.Request.TargetURL == "" {
		return replica.ClusterResult{Status: replica.StatusIncorrectArguments, Request: rc.Request}
	}
	if m.RejectsStreamingWithParallelism && rc.Request.Body.RequiresSingleUse() {
		return replica.ClusterResult{Status: replica.StatusIncorrectArguments, Request: rc.Request}
	}
	return next(rc)
}

// HttpMethodValidationModule rejects any request whose Method falls
// outside the closed set spec.md §3 enumerates.
type HttpMethodValidationModule struct{}

func (HttpMethodValidationModule) Execute(rc *reqctx.Context, next Next) replica.ClusterResult {
	if !rc.Request.Method.Valid() {
		return replica.ClusterResult{Status: replica.StatusIncorrectArguments, Request: rc.Request}
	}
	return next(rc)
}

// TimeoutValidationModule rejects a zero/negative total timeout and
// trims a too-large one down to MaxTimeout (spec.md §4.9).
type TimeoutValidationModule struct {
	MaxTimeout time.Duration
}

func (m TimeoutValidationModule) Execute(rc *reqctx.Context, next Next) replica.ClusterResult {
	if rc.Budget == nil || rc.Budget.Total() <= 0 {
		return replica.ClusterResult{Status: replica.StatusIncorrectArguments, Request: rc.Request}
	}
	if m.MaxTimeout > 0 && rc.Budget.Total() > m.MaxTimeout {
		rc.Budget = rc.Budget.WithTotal(m.MaxTimeout)
	}
	return next(rc)
}

// RequestTransformationModule applies user-registered request transforms
// in registration order (spec.md §4.9).
type RequestTransformationModule struct {
	Transforms []func(req *replica.Request)
}

func (m RequestTransformationModule) Execute(rc *reqctx.Context, next Next) replica.ClusterResult {
	for _, t := range m.Transforms {
		t(&rc.Request)
	}
	return next(rc)
}

// ResponseTransformationModule applies user-registered response
// transforms, in registration order, to the selected response after
// next returns (spec.md §4.9).
type ResponseTransformationModule struct {
	Transforms []func(resp *replica.Response)
}

func (m ResponseTransformationModule) Execute(rc *reqctx.Context, next Next) replica.ClusterResult {
	result := next(rc)
	for _, t := range m.Transforms {
		t(&result.SelectedResponse)
	}
	return result
}

// LoggingModule emits a structured event before and after next, per
// spec.md §4.9: the level of the second event is chosen by classifying
// the final response with the ErrorCriteria chain (Error if the chain's
// verdict is Reject, Warn if the cluster status is not Success, Info
// otherwise).
type LoggingModule struct {
	Logger        *zap.Logger
	ErrorCriteria classify.Chain
}

func (m LoggingModule) Execute(rc *reqctx.Context, next Next) replica.ClusterResult {
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("request started", zap.String("target", rc.Request.TargetURL))
	result := next(rc)

	fields := []zap.Field{
		zap.String("target", rc.Request.TargetURL),
		zap.String("status", result.Status.String()),
		zap.Int("attempts", len(result.ReplicaResults)),
	}
	switch {
	case m.ErrorCriteria.Classify(result.SelectedResponse) == replica.Reject:
		logger.Error("request finished", fields...)
	case result.Status != replica.StatusSuccess:
		logger.Warn("request finished", fields...)
	default:
		logger.Info("request finished", fields...)
	}
	return result
}

// RetryPolicy decides whether the Retry module should invoke next again
// (spec.md §6's required collaborator table): shouldRetry(attemptIndex,
// clusterResult) → bool.
type RetryPolicy interface {
	ShouldRetry(attemptIndex int, result replica.ClusterResult) bool
}

// MaxAttemptsRetryPolicy retries up to MaxAttempts-1 additional times,
// and only when the previous attempt's status was not Success.
type MaxAttemptsRetryPolicy struct {
	MaxAttempts int
}

var _ RetryPolicy = MaxAttemptsRetryPolicy{}

func (p MaxAttemptsRetryPolicy) ShouldRetry(attemptIndex int, result replica.ClusterResult) bool {
	if result.Status == replica.StatusSuccess {
		return false
	}
	return attemptIndex+1 < p.MaxAttempts
}

// RetryModule is C11: it sits just outside Execution and invokes next up
// to K times, K chosen by Policy from (attempts-so-far, last result).
// Each retry accumulates into the same RequestContext, so the
// ReplicaResult accumulator grows across retries rather than resetting.
type RetryModule struct {
	Policy RetryPolicy
}

func (m RetryModule) Execute(rc *reqctx.Context, next Next) replica.ClusterResult {
	policy := m.Policy
	if policy == nil {
		policy = MaxAttemptsRetryPolicy{MaxAttempts: 1}
	}
	attempt := 0
	result := next(rc)
	for policy.ShouldRetry(attempt, result) {
		if rc.Canceled() || rc.Budget.HasExpired() {
			break
		}
		attempt++
		result = next(rc)
	}
	return result
}

// ExecutionModule is C10's driver, implementing spec.md §4.10 steps 1-6.
type ExecutionModule struct {
	Provider          clusterprovider.Provider
	Ordering          *ordering.Orderer
	ProcessStorage    *storage.Registry
	Strategy          strategy.Strategy
	Attempter         strategy.Attempter
	ResponseSelector  cluster.ResponseSelector
	StatusSelector    cluster.StatusSelector
	MaxReplicasPerReq int
	Rand              *rand.Rand
}

func (m ExecutionModule) Execute(rc *reqctx.Context, _ Next) replica.ClusterResult {
	replicas := m.Provider.GetCluster()
	if dedup, _ := params.Get(rc.Params, dedupKey); dedup {
		replicas = dedupeReplicas(replicas)
	}
	if len(replicas) == 0 {
		return replica.ClusterResult{Status: replica.StatusReplicasNotFound, Request: rc.Request}
	}

	access := weight.StorageAccess{Process: m.ProcessStorage, Request: rc.RequestStorage}
	it := m.Ordering.Order(replicas, access, rc.Request, rc.Params, m.Rand)

	totalCap := len(replicas)
	if m.MaxReplicasPerReq > 0 && m.MaxReplicasPerReq < totalCap {
		totalCap = m.MaxReplicasPerReq
	}

	_ = m.Strategy.Run(rc.Ctx, m.Attempter, rc.Budget, rc.Request, it, totalCap, rc.Accumulator, access)

	results := rc.Accumulator.Snapshot()
	responseSelector := m.ResponseSelector
	if responseSelector == nil {
		responseSelector = cluster.DefaultResponseSelector{}
	}
	statusSelector := m.StatusSelector
	if statusSelector == nil {
		statusSelector = cluster.DefaultStatusSelector{}
	}

	selected := responseSelector.Select(rc.Request, results)
	status := statusSelector.Select(results, rc.Budget.HasExpired(), rc.Canceled())

	return replica.ClusterResult{
		Status:           status,
		ReplicaResults:   results,
		SelectedResponse: selected,
		Request:          rc.Request,
	}
}
