package sender_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obiwan-smirnobi/clusterclient.core/classify"
	"github.com/obiwan-smirnobi/clusterclient.core/ordering"
	"github.com/obiwan-smirnobi/clusterclient.core/replica"
	"github.com/obiwan-smirnobi/clusterclient.core/sender"
	"github.com/obiwan-smirnobi/clusterclient.core/storage"
	"github.com/obiwan-smirnobi/clusterclient.core/transport"
	"github.com/obiwan-smirnobi/clusterclient.core/weight"
)

type fakeTransport struct {
	resp replica.Response
	err  error
	gotCtx context.Context
}

func (f *fakeTransport) Send(ctx context.Context, _ replica.Request) (replica.Response, error) {
	f.gotCtx = ctx
	return f.resp, f.err
}

func (f *fakeTransport) Supports(transport.Capability) bool { return false }

type sliceAccumulator struct {
	results []replica.ReplicaResult
}

func (a *sliceAccumulator) Append(r replica.ReplicaResult) {
	a.results = append(a.results, r)
}

func newAccess() sender.StorageAccess {
	return weight.StorageAccess{Process: storage.NewRegistry(), Request: storage.NewRegistry()}
}

func TestSend_SuccessIsClassifiedAndRecorded(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{resp: replica.Response{StatusCode: 200, Verdict: replica.TransportSuccess}}
	classifier := classify.NewChain(classify.DefaultSuccessOrFailure())
	s := sender.New(tr, nil, classifier, nil, nil)

	r, err := replica.NewReplica("http://a")
	require.NoError(t, err)
	acc := &sliceAccumulator{}

	result := s.Send(context.Background(), r, replica.Request{TargetURL: "/x"}, time.Second, 0, acc, newAccess())

	assert.Equal(t, replica.Accept, result.Verdict)
	require.Len(t, acc.results, 1)
	assert.Equal(t, r, acc.results[0].Replica)
}

func TestSend_TransportErrorIsClassifiedRejectAndRecorded(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{resp: replica.Response{Verdict: replica.TransportConnectFailure}, err: errors.New("boom")}
	classifier := classify.NewChain(classify.DefaultSuccessOrFailure())
	s := sender.New(tr, nil, classifier, nil, nil)

	r, err := replica.NewReplica("http://a")
	require.NoError(t, err)
	acc := &sliceAccumulator{}

	result := s.Send(context.Background(), r, replica.Request{TargetURL: "/x"}, time.Second, 0, acc, newAccess())

	assert.Equal(t, replica.Reject, result.Verdict)
	require.Len(t, acc.results, 1)
}

func TestSend_RebasesRequestOntoReplica(t *testing.T) {
	t.Parallel()

	var seen replica.Request
	tr := &recordingTransport{record: &seen, resp: replica.Response{StatusCode: 200, Verdict: replica.TransportSuccess}}
	classifier := classify.NewChain(classify.DefaultSuccessOrFailure())
	s := sender.New(tr, nil, classifier, nil, nil)

	r, err := replica.NewReplica("http://a.example")
	require.NoError(t, err)
	acc := &sliceAccumulator{}

	s.Send(context.Background(), r, replica.Request{TargetURL: "/x"}, time.Second, 0, acc, newAccess())

	assert.Equal(t, "http://a.example/x", seen.TargetURL)
}

func TestSend_LearnsOrderingOnEveryAttempt(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{resp: replica.Response{StatusCode: 500, Verdict: replica.TransportSuccess}}
	classifier := classify.NewChain(classify.DefaultSuccessOrFailure())
	modifier := &countingModifier{}
	orderer := ordering.New(weight.NewChain([]weight.Modifier{modifier}), 10)
	s := sender.New(tr, nil, classifier, orderer, nil)

	r, err := replica.NewReplica("http://a")
	require.NoError(t, err)
	acc := &sliceAccumulator{}

	s.Send(context.Background(), r, replica.Request{TargetURL: "/x"}, time.Second, 0, acc, newAccess())

	assert.Equal(t, 1, modifier.learnCalls)
}

type recordingTransport struct {
	record *replica.Request
	resp   replica.Response
}

func (r *recordingTransport) Send(_ context.Context, req replica.Request) (replica.Response, error) {
	*r.record = req
	return r.resp, nil
}

func (r *recordingTransport) Supports(transport.Capability) bool { return false }

type countingModifier struct {
	learnCalls int
}

func (m *countingModifier) Modify(weight.ModifyContext) {}
func (m *countingModifier) Learn(weight.LearnContext)   { m.learnCalls++ }
