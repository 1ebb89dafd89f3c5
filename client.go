// Copyright 2023 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package clusterclient is the module root: it wires every collaborator
// package (pipeline, sender, strategy, ordering, weight, health,
// classify, clusterprovider, transport) into one configured, runnable
// Client via the same functional-options constructor pattern used to
// build a connection-pooling HTTP client, generalized here from
// "one *http.Client per option set" to "one cluster-aware pipeline per
// option set".
package clusterclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/obiwan-smirnobi/clusterclient.core/budget"
	"github.com/obiwan-smirnobi/clusterclient.core/classify"
	"github.com/obiwan-smirnobi/clusterclient.core/cluster"
	"github.com/obiwan-smirnobi/clusterclient.core/clusterprovider"
	"github.com/obiwan-smirnobi/clusterclient.core/ordering"
	"github.com/obiwan-smirnobi/clusterclient.core/params"
	"github.com/obiwan-smirnobi/clusterclient.core/pipeline"
	"github.com/obiwan-smirnobi/clusterclient.core/replica"
	"github.com/obiwan-smirnobi/clusterclient.core/reqctx"
	"github.com/obiwan-smirnobi/clusterclient.core/sender"
	"github.com/obiwan-smirnobi/clusterclient.core/storage"
	"github.com/obiwan-smirnobi/clusterclient.core/strategy"
	"github.com/obiwan-smirnobi/clusterclient.core/transport"
	"github.com/obiwan-smirnobi/clusterclient.core/weight"
)

// ClientOption is an option used to customize the behavior of a Client.
type ClientOption interface {
	apply(*clientOptions)
}

type clientOptionFunc func(*clientOptions)

func (f clientOptionFunc) apply(opts *clientOptions) {
	f(opts)
}

// WithClusterProvider configures the collaborator that supplies the
// current replica set. Required; NewClient returns an error if it is
// never set.
func WithClusterProvider(provider clusterprovider.Provider) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.provider = provider
	})
}

// WithTransport configures the collaborator that actually sends bytes to
// a replica. If not set, a default transport.HTTPTransport wrapping an
// HTTP/2-over-cleartext-capable *http.Client is used.
func WithTransport(tr transport.Transport) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.transport = tr
	})
}

// WithDefaultTimeout sets the total per-request time budget applied when
// the caller's context carries no deadline, or a deadline further out
// than this timeout. Required; NewClient returns an error if it is
// non-positive.
func WithDefaultTimeout(d time.Duration) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.defaultTimeout = d
	})
}

// WithMaxReplicasUsedPerRequest caps how many distinct replicas a single
// logical request may attempt, independent of how many the cluster
// provider reports. Required; NewClient returns an error if it is
// non-positive.
func WithMaxReplicasUsedPerRequest(n int) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.maxReplicasUsedPerRequest = n
	})
}

// WithMaxWeight sets the cap every replica's weight is clamped to before
// ordering. Required; NewClient returns an error if it is non-positive.
func WithMaxWeight(w float64) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.maxWeight = w
	})
}

// WithWeightModifiers appends modifiers to the weight chain, in the
// order given. Each modifier uses the storage scope it was constructed
// with (e.g. the scope argument of health.NewModifier).
func WithWeightModifiers(modifiers ...weight.Modifier) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.weightModifiers = append(opts.weightModifiers, modifiers...)
	})
}

// WithReplicaStorageScope records the client's preferred default storage
// scope (spec.md §6's replicaStorageScope). No built-in module reads the
// recorded value and Client does not expose it: every weight.Modifier
// uses the scope it was constructed with.
func WithReplicaStorageScope(scope storage.Scope) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.replicaStorageScope = scope
	})
}

// WithClassifyCriteria sets the response classifier chain used to turn a
// transport Response into an Accept/Reject/DontKnow verdict. Required;
// NewClient returns an error if criteria is empty or does not end in a
// terminal criterion (classify.Validate).
func WithClassifyCriteria(criteria ...classify.Criterion) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.classifyCriteria = criteria
	})
}

// WithDeduplicateRequestUrl enables or disables collapsing replicas that
// normalize to the same base URL before ordering (spec.md §6's
// deduplicateRequestUrl flag). Disabled by default.
func WithDeduplicateRequestUrl(enabled bool) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.deduplicateRequestURL = enabled
	})
}

// WithValidateHttpMethod enables or disables the method-validation
// module. Enabled by default.
func WithValidateHttpMethod(enabled bool) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.validateHTTPMethod = &enabled
	})
}

// LoggingOptions configures the logging pipeline module (spec.md §6's
// logging block).
type LoggingOptions struct {
	Logger                *zap.Logger
	LogRequestDetails     bool
	LogResultDetails      bool
	LogReplicaRequests    bool
	LogReplicaResults     bool
	ErrorResponseCriteria []classify.Criterion
}

// WithLogging configures structured logging for the client. If Logger is
// nil, a no-op logger is used. If ErrorResponseCriteria is empty,
// classify.DefaultSuccessOrFailure is used to decide log severity.
func WithLogging(opts LoggingOptions) ClientOption {
	return clientOptionFunc(func(o *clientOptions) {
		o.logging = opts
	})
}

// AdaptiveThrottlingOptions configures client-side request shedding
// (spec.md §6's adaptiveThrottling block).
type AdaptiveThrottlingOptions struct {
	MinimumRequests         float64
	MinimumRatio            float64
	RejectionProbabilityCap float64
	RequestType             string
}

// WithAdaptiveThrottling enables standard adaptive throttling with the
// given parameters. Disabled by default.
func WithAdaptiveThrottling(opts AdaptiveThrottlingOptions) ClientOption {
	return clientOptionFunc(func(o *clientOptions) {
		o.throttling = opts
		o.throttlingEnabled = true
	})
}

// WithMaxAttempts sets the retry module's policy to retry a non-Success
// request up to n total attempts. Defaults to 1 (no retry).
func WithMaxAttempts(n int) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.retryPolicy = pipeline.MaxAttemptsRetryPolicy{MaxAttempts: n}
	})
}

// WithRetryPolicy sets a custom retry policy, overriding WithMaxAttempts.
func WithRetryPolicy(policy pipeline.RetryPolicy) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.retryPolicy = policy
	})
}

// WithStrategy sets the dispatch strategy. Defaults to
// strategy.Sequential with an EqualTimeoutsProvider.
func WithStrategy(s strategy.Strategy) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.strategy = s
	})
}

// WithConnectTimeout bounds connection establishment separately from the
// overall per-attempt timeout, for any default strategy this client
// builds for itself (it has no effect if WithStrategy supplies a fully
// configured strategy value).
func WithConnectTimeout(d time.Duration) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.connectTimeout = d
	})
}

// WithRequestTransforms registers request mutators applied, in order,
// before ordering and dispatch.
func WithRequestTransforms(transforms ...func(req *replica.Request)) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.requestTransforms = append(opts.requestTransforms, transforms...)
	})
}

// WithResponseTransforms registers response mutators applied, in order,
// to the selected response before it is returned to the caller.
func WithResponseTransforms(transforms ...func(resp *replica.Response)) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.responseTransforms = append(opts.responseTransforms, transforms...)
	})
}

// WithReplicaTransform overrides how a logical request's target is
// rebased onto a chosen replica. Defaults to sender.RebaseTransform.
func WithReplicaTransform(t sender.ReplicaTransform) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.replicaTransform = t
	})
}

// WithResponseSelector overrides how the winning response is chosen from
// a request's ReplicaResults. Defaults to cluster.DefaultResponseSelector.
func WithResponseSelector(s cluster.ResponseSelector) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.responseSelector = s
	})
}

// WithStatusSelector overrides how the terminal ClusterStatus is derived.
// Defaults to cluster.DefaultStatusSelector.
func WithStatusSelector(s cluster.StatusSelector) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.statusSelector = s
	})
}

// WithRand overrides the random source used for weighted ordering and
// adaptive throttling decisions, for deterministic tests. Defaults to a
// process-seeded source.
func WithRand(r *rand.Rand) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.rand = r
	})
}

// WithDialer configures the function used to establish network
// connections for the default transport. Has no effect if WithTransport
// supplies a transport of its own. If no WithDialer option is provided,
// a default [net.Dialer] with a 30-second dial timeout is used.
func WithDialer(dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.dialFunc = dialFunc
	})
}

// WithTLSConfig adds custom TLS configuration to the default transport's
// underlying HTTP client. Has no effect if WithTransport supplies a
// transport of its own.
func WithTLSConfig(config *tls.Config) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.tlsClientConfig = config
	})
}

// WithMaxResponseHeaderBytes configures the maximum size of response
// headers the default transport's underlying HTTP client will consume.
// Has no effect if WithTransport supplies a transport of its own.
func WithMaxResponseHeaderBytes(limit int) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.maxResponseHeaderBytes = int64(limit)
	})
}

type clientOptions struct {
	provider  clusterprovider.Provider
	transport transport.Transport

	defaultTimeout            time.Duration
	maxReplicasUsedPerRequest int
	maxWeight                 float64
	replicaStorageScope       storage.Scope
	weightModifiers           []weight.Modifier
	classifyCriteria          []classify.Criterion

	deduplicateRequestURL bool
	validateHTTPMethod    *bool

	logging LoggingOptions

	throttlingEnabled bool
	throttling        AdaptiveThrottlingOptions

	retryPolicy pipeline.RetryPolicy
	strategy    strategy.Strategy

	connectTimeout     time.Duration
	requestTransforms  []func(req *replica.Request)
	responseTransforms []func(resp *replica.Response)
	replicaTransform   sender.ReplicaTransform
	responseSelector   cluster.ResponseSelector
	statusSelector     cluster.StatusSelector
	rand               *rand.Rand

	dialFunc               func(ctx context.Context, network, addr string) (net.Conn, error)
	tlsClientConfig        *tls.Config
	maxResponseHeaderBytes int64
}

func (opts *clientOptions) applyDefaults() {
	if opts.dialFunc == nil {
		opts.dialFunc = (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	}
	if opts.maxResponseHeaderBytes == 0 {
		opts.maxResponseHeaderBytes = 1 << 20
	}
	if opts.retryPolicy == nil {
		opts.retryPolicy = pipeline.MaxAttemptsRetryPolicy{MaxAttempts: 1}
	}
	if opts.validateHTTPMethod == nil {
		enabled := true
		opts.validateHTTPMethod = &enabled
	}
	if opts.strategy == nil {
		opts.strategy = strategy.Sequential{
			Timeouts:       strategy.EqualTimeoutsProvider{Division: 1},
			ConnectTimeout: opts.connectTimeout,
		}
	}
}

// validate enforces spec.md §6's configuration validation rules,
// rejected at configuration time rather than surfacing later as a
// runtime IncorrectArguments result.
func (opts *clientOptions) validate() error {
	if opts.provider == nil {
		return errors.New("clusterclient: cluster provider unset")
	}
	if opts.defaultTimeout <= 0 {
		return errors.New("clusterclient: defaultTimeout must be positive")
	}
	if opts.maxReplicasUsedPerRequest <= 0 {
		return errors.New("clusterclient: maxReplicasUsedPerRequest must be positive")
	}
	if opts.maxWeight <= 0 {
		return errors.New("clusterclient: maxWeight must be positive")
	}
	if len(opts.classifyCriteria) == 0 {
		return errors.New("clusterclient: classify criteria unset")
	}
	for _, c := range opts.classifyCriteria {
		if c == nil {
			return errors.New("clusterclient: classify criteria must not contain nil entries")
		}
	}
	if err := classify.Validate(opts.classifyCriteria); err != nil {
		return fmt.Errorf("clusterclient: %w", err)
	}
	for _, m := range opts.weightModifiers {
		if m == nil {
			return errors.New("clusterclient: weight modifiers must not contain nil entries")
		}
	}
	return nil
}

// Client is a configured, ready-to-use cluster-aware HTTP client core: a
// built pipeline.Pipeline plus the default budget and storage it needs
// per call to Do.
type Client struct {
	run            pipeline.Next
	defaultTimeout time.Duration
	maxReplicas    int
	logger         *zap.Logger
}

// NewClient builds a Client from the given options. It validates the
// configuration per spec.md §6 before building the pipeline, returning
// an error rather than a partially-usable Client.
func NewClient(options ...ClientOption) (*Client, error) {
	var opts clientOptions
	opts.replicaStorageScope = storage.Process
	for _, opt := range options {
		opt.apply(&opts)
	}
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	logger := opts.logging.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tr := opts.transport
	if tr == nil {
		tr = transport.NewHTTPTransport(&http.Client{
			Transport: &http2.Transport{
				AllowHTTP:       true,
				TLSClientConfig: opts.tlsClientConfig,
				DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
					if d, ok := transport.ConnectTimeoutFrom(ctx); ok {
						var cancel context.CancelFunc
						ctx, cancel = context.WithTimeout(ctx, d)
						defer cancel()
					}
					return opts.dialFunc(ctx, network, addr)
				},
				MaxHeaderListSize: uint32(opts.maxResponseHeaderBytes),
			},
		})
	}

	classifyChain := classify.NewChain(opts.classifyCriteria)
	weightChain := weight.NewChain(opts.weightModifiers)
	orderer := ordering.New(weightChain, opts.maxWeight)
	snd := sender.New(tr, opts.replicaTransform, classifyChain, orderer, logger)
	processStorage := storage.NewRegistry()

	errorCriteria := opts.logging.ErrorResponseCriteria
	if len(errorCriteria) == 0 {
		errorCriteria = classify.DefaultSuccessOrFailure()
	}

	p := pipeline.New()
	p.Register(pipeline.LeakPrevention, pipeline.LeakPreventionModule{})
	p.Register(pipeline.GlobalErrorHandling, pipeline.GlobalErrorHandlingModule{Logger: logger})
	rejectStreaming := false
	switch opts.strategy.(type) {
	case strategy.ParallelN, strategy.Forking:
		rejectStreaming = true
	}
	p.Register(pipeline.RequestValidation, pipeline.RequestValidationModule{RejectsStreamingWithParallelism: rejectStreaming})
	if *opts.validateHTTPMethod {
		p.Register(pipeline.RequestValidation, pipeline.HttpMethodValidationModule{})
	}
	p.Register(pipeline.TimeoutValidation, pipeline.TimeoutValidationModule{MaxTimeout: opts.defaultTimeout})
	if opts.deduplicateRequestURL {
		p.Register(pipeline.RequestTransformation, pipeline.DeduplicateModule{Enabled: true})
	}
	if len(opts.requestTransforms) > 0 {
		p.Register(pipeline.RequestTransformation, pipeline.RequestTransformationModule{Transforms: opts.requestTransforms})
	}
	p.Register(pipeline.Logging, pipeline.LoggingModule{Logger: logger, ErrorCriteria: classify.NewChain(errorCriteria)})
	if opts.throttlingEnabled {
		p.Register(pipeline.RequestErrorHandling, pipeline.AdaptiveThrottlingModule{
			Enabled:         true,
			K:               opts.throttling.MinimumRatio,
			MinimumRequests: opts.throttling.MinimumRequests,
			RejectionCap:    opts.throttling.RejectionProbabilityCap,
			RequestType:     opts.throttling.RequestType,
			ProcessCounters: pipeline.NewThrottleCounters(),
			Rand:            opts.rand,
		})
	}
	if len(opts.responseTransforms) > 0 {
		p.Register(pipeline.ResponseTransformation, pipeline.ResponseTransformationModule{Transforms: opts.responseTransforms})
	}
	p.Register(pipeline.Retry, pipeline.RetryModule{Policy: opts.retryPolicy})
	p.Register(pipeline.Execution, pipeline.ExecutionModule{
		Provider:          opts.provider,
		Ordering:          orderer,
		ProcessStorage:    processStorage,
		Strategy:          opts.strategy,
		Attempter:         snd,
		ResponseSelector:  opts.responseSelector,
		StatusSelector:    opts.statusSelector,
		MaxReplicasPerReq: opts.maxReplicasUsedPerRequest,
		Rand:              opts.rand,
	})

	return &Client{
		run:            p.Build(),
		defaultTimeout: opts.defaultTimeout,
		maxReplicas:    opts.maxReplicasUsedPerRequest,
		logger:         logger,
	}, nil
}

// Do runs one logical request through the configured pipeline, honoring
// ctx's cancellation and, if present, its deadline (clamped to no more
// than the client's defaultTimeout).
func (c *Client) Do(ctx context.Context, req replica.Request) replica.ClusterResult {
	total := c.defaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < total {
			total = remaining
		}
	}
	rc := reqctx.New(ctx, req, params.New(), budget.New(total), nil, c.maxReplicas, c.logger)
	return c.run(rc)
}
