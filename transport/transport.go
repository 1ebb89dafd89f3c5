// Package transport declares the Transport collaborator contract
// (spec.md §6): the thing that actually moves bytes to a replica and
// back. The concrete socket/TLS/connection-pooling machinery is out of
// scope for this module (spec.md §1); only the contract, plus one usable
// default adapter over net/http, lives here.
package transport

import (
	"context"
	"time"

	"github.com/obiwan-smirnobi/clusterclient.core/replica"
)

// Capability is an optional feature a Transport implementation may or
// may not support.
type Capability int

const (
	// RequestStreaming indicates the transport can send a request whose
	// body is a single-use streaming source.
	RequestStreaming Capability = iota
	// RequestCompositeBody indicates the transport can send a request
	// whose body is a composite sequence of buffers.
	RequestCompositeBody
)

// Transport sends one request to one already-resolved replica URL and
// returns the response. It must be safe for concurrent use by multiple
// attempts (possibly for different replicas, possibly for the same one),
// and must honor ctx cancellation/deadline promptly: per spec.md §4.7,
// the sender is responsible for attaching the per-attempt timeout to ctx
// before calling Send, so Transport implementations need only react to
// ctx, not manage their own timers.
type Transport interface {
	Send(ctx context.Context, req replica.Request) (replica.Response, error)
	Supports(capability Capability) bool
}

type connectTimeoutKey struct{}

// WithConnectTimeout attaches the connection-establishment timeout from
// spec.md §4.7 to ctx. A Transport implementation that has a distinct
// connect phase (like HTTPTransport's dialer) may read it back with
// ConnectTimeoutFrom to bound that phase separately from the overall
// per-attempt deadline already present on ctx.
func WithConnectTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, connectTimeoutKey{}, d)
}

// ConnectTimeoutFrom retrieves a connection-establishment timeout set by
// WithConnectTimeout, if any.
func ConnectTimeoutFrom(ctx context.Context) (time.Duration, bool) {
	d, ok := ctx.Value(connectTimeoutKey{}).(time.Duration)
	return d, ok
}
