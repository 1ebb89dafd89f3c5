// Package pipeline implements the pipeline runtime (spec.md §4.9): an
// ordered list of modules arranged in ordinal groups, composed into a
// chain of continuations with LeakPrevention as the outermost wrapper
// and Execution as the innermost link.
package pipeline

import (
	"github.com/obiwan-smirnobi/clusterclient.core/reqctx"
	"github.com/obiwan-smirnobi/clusterclient.core/replica"
)

// Group is one of the ordinal module groups enumerated by spec.md §4.9.
// Groups execute outermost-to-innermost in the order declared below;
// within a group, user-supplied modules extend the built-in ones in
// registration order.
type Group int

const (
	LeakPrevention Group = iota
	GlobalErrorHandling
	RequestTransformation
	Priority
	Logging
	ResponseTransformation
	RequestErrorHandling
	RequestValidation
	TimeoutValidation
	Retry
	Sending
	Execution
	groupCount
)

func (g Group) String() string {
	switch g {
	case LeakPrevention:
		return "leak_prevention"
	case GlobalErrorHandling:
		return "global_error_handling"
	case RequestTransformation:
		return "request_transformation"
	case Priority:
		return "priority"
	case Logging:
		return "logging"
	case ResponseTransformation:
		return "response_transformation"
	case RequestErrorHandling:
		return "request_error_handling"
	case RequestValidation:
		return "request_validation"
	case TimeoutValidation:
		return "timeout_validation"
	case Retry:
		return "retry"
	case Sending:
		return "sending"
	case Execution:
		return "execution"
	default:
		return "unknown"
	}
}

// Next is the continuation a Module calls to invoke the remainder of the
// pipeline.
type Next func(rc *reqctx.Context) replica.ClusterResult

// Module is one pipeline stage (spec.md §4.9's module contract): it must
// call next at most once unless it short-circuits with a synthetic
// ClusterResult, must propagate cancellation promptly, and must not
// mutate rc.Request after next returns.
type Module interface {
	Execute(rc *reqctx.Context, next Next) replica.ClusterResult
}

// ModuleFunc adapts a plain function to the Module interface, the same
// adapter shape net/http.HandlerFunc uses for http.Handler.
type ModuleFunc func(rc *reqctx.Context, next Next) replica.ClusterResult

func (f ModuleFunc) Execute(rc *reqctx.Context, next Next) replica.ClusterResult {
	return f(rc, next)
}

// Pipeline is a built, ordered chain of modules grouped by Group.
type Pipeline struct {
	groups [groupCount][]Module
}

// New creates an empty Pipeline.
func New() *Pipeline {
	return &Pipeline{}
}

// Register appends a module to the given group, after any built-in
// modules already registered there. Registration order within a group
// is preserved (spec.md §4.9: "user-supplied modules may extend the
// list").
func (p *Pipeline) Register(group Group, m Module) {
	p.groups[group] = append(p.groups[group], m)
}

// Build composes every registered module into a single Next, outermost
// group first, terminating in a Next that returns an UnexpectedException
// ClusterResult if nothing ever invokes Execution (a misconfiguration,
// but one that must not panic).
func (p *Pipeline) Build() Next {
	var next Next = func(rc *reqctx.Context) replica.ClusterResult {
		return replica.ClusterResult{Status: replica.StatusUnexpectedException, Request: rc.Request}
	}
	for g := groupCount - 1; g >= 0; g-- {
		modules := p.groups[g]
		for i := len(modules) - 1; i >= 0; i-- {
			module := modules[i]
			innerNext := next
			next = func(rc *reqctx.Context) replica.ClusterResult {
				return module.Execute(rc, innerNext)
			}
		}
	}
	return next
}

// Run builds and immediately invokes the pipeline for one RequestContext.
func (p *Pipeline) Run(rc *reqctx.Context) replica.ClusterResult {
	return p.Build()(rc)
}
