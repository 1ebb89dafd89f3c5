// Package replica defines the data model shared by every other package in
// this module: the Replica, Request, Response, ReplicaResult and
// ClusterResult types described in spec.md §3, plus the small enumerations
// (Method, StatusCategory, TransportVerdict, Verdict, ClusterStatus) that
// those types are built from.
package replica

import (
	"net/url"
	"strings"
	"time"
)

// Replica is one concrete server endpoint belonging to a logical cluster,
// identified by an absolute base URL. Equality is ordinal on the
// normalized URL string, and a Replica is immutable for the lifetime of a
// request.
type Replica struct {
	base string
}

// NewReplica parses raw as an absolute URL and returns the Replica it
// identifies. The URL is normalized (lowercase scheme/host, trailing
// slash trimmed) so that two equivalent URLs compare equal.
func NewReplica(raw string) (Replica, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return Replica{}, err
	}
	return Replica{base: normalize(parsed)}, nil
}

func normalize(u *url.URL) string {
	clone := *u
	clone.Scheme = strings.ToLower(clone.Scheme)
	clone.Host = strings.ToLower(clone.Host)
	clone.Path = strings.TrimSuffix(clone.Path, "/")
	return clone.String()
}

// String returns the normalized base URL.
func (r Replica) String() string {
	return r.base
}

// IsZero reports whether r is the zero Replica (no URL set).
func (r Replica) IsZero() bool {
	return r.base == ""
}

// ResolveRequestURL rebases target against this replica's base URL. If
// target is already absolute, it is returned unchanged.
func (r Replica) ResolveRequestURL(target string) (string, error) {
	base, err := url.Parse(r.base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// Method enumerates the HTTP methods a Request may use. Unlike
// net/http, this is a closed set: the pipeline's HttpMethodValidation
// module rejects any request whose Method falls outside it.
type Method int

const (
	MethodGet Method = iota
	MethodPost
	MethodPut
	MethodHead
	MethodPatch
	MethodDelete
	MethodOptions
	MethodTrace
	methodCount
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	case MethodPut:
		return "PUT"
	case MethodHead:
		return "HEAD"
	case MethodPatch:
		return "PATCH"
	case MethodDelete:
		return "DELETE"
	case MethodOptions:
		return "OPTIONS"
	case MethodTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether m is one of the enumerated methods.
func (m Method) Valid() bool {
	return m >= MethodGet && m < methodCount
}

// BodyKind enumerates the body representations a Request or Response may
// carry. At most one is active on a given message; NoBody means no body
// is present at all.
type BodyKind int

const (
	NoBody BodyKind = iota
	BufferBody
	StreamBody
	CompositeBody
)

// Body is a tagged union over the body variants a Request/Response may
// carry: none, an in-memory buffer, a streaming source, or a composite
// sequence of buffers. Streaming bodies are single-use: submitting the
// same Body concurrently to more than one attempt is a caller error. A
// client configured with a Parallel-N or Forking strategy rejects a
// request whose body is a stream in its RequestValidation module.
type Body struct {
	Kind   BodyKind
	Buffer []byte
	Stream StreamSource
	Parts  [][]byte
}

// StreamSource is a single-use, read-once source of request or response
// body bytes, e.g. an *os.File or a network stream. Implementations must
// not be read concurrently.
type StreamSource interface {
	Read(p []byte) (n int, err error)
	Close() error
}

// RequiresSingleUse reports whether this body may be submitted to at most
// one in-flight attempt at a time.
func (b Body) RequiresSingleUse() bool {
	return b.Kind == StreamBody
}

// Header is a case-insensitive multi-value header map, following the
// same canonicalization convention as net/http.Header.
type Header map[string][]string

// Get returns the first value associated with the given key, using
// case-insensitive, canonicalized lookup.
func (h Header) Get(key string) string {
	values := h[canonicalHeaderKey(key)]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Set replaces any existing values for key with a single value.
func (h Header) Set(key, value string) {
	h[canonicalHeaderKey(key)] = []string{value}
}

// Add appends value to any existing values for key.
func (h Header) Add(key, value string) {
	h[canonicalHeaderKey(key)] = append(h[canonicalHeaderKey(key)], value)
}

func canonicalHeaderKey(key string) string {
	if key == "" {
		return key
	}
	b := []byte(key)
	upperNext := true
	for i, c := range b {
		switch {
		case upperNext && 'a' <= c && c <= 'z':
			b[i] = c - 'a' + 'A'
			upperNext = false
		case !upperNext && 'A' <= c && c <= 'Z':
			b[i] = c - 'A' + 'a'
			upperNext = false
		default:
			upperNext = c == '-'
		}
	}
	return string(b)
}

// Request is one logical HTTP request, as submitted by the caller before
// a replica has been chosen. TargetURL may be relative to whichever
// replica ends up handling the attempt.
type Request struct {
	Method    Method
	TargetURL string
	Headers   Header
	Body      Body
}

// StatusCategory classifies an HTTP status code the way spec.md §3
// requires: Informational/Success/Redirection/ClientFailure/ServerFailure
// for ordinary codes, plus NetworkFailure and Unknown for the cases a
// status code cannot express (transport-level failures, and anything
// outside the 1xx-5xx range).
type StatusCategory int

const (
	CategoryUnknown StatusCategory = iota
	CategoryInformational
	CategorySuccess
	CategoryRedirection
	CategoryClientFailure
	CategoryServerFailure
	CategoryNetworkFailure
)

// ClassifyStatus maps a numeric HTTP status code to its StatusCategory.
func ClassifyStatus(code int) StatusCategory {
	switch {
	case code >= 100 && code < 200:
		return CategoryInformational
	case code >= 200 && code < 300:
		return CategorySuccess
	case code >= 300 && code < 400:
		return CategoryRedirection
	case code >= 400 && code < 500:
		return CategoryClientFailure
	case code >= 500 && code < 600:
		return CategoryServerFailure
	default:
		return CategoryUnknown
	}
}

// TransportVerdict is the opaque outcome the transport collaborator
// reports for one attempt, independent of any HTTP status code (a
// transport failure means there is no status code at all).
type TransportVerdict int

const (
	TransportSuccess TransportVerdict = iota
	TransportTimeout
	TransportConnectFailure
	TransportContentReuseFailure
	TransportCanceled
	TransportUnknownFailure
)

func (v TransportVerdict) String() string {
	switch v {
	case TransportSuccess:
		return "success"
	case TransportTimeout:
		return "timeout"
	case TransportConnectFailure:
		return "connect_failure"
	case TransportContentReuseFailure:
		return "content_reuse_failure"
	case TransportCanceled:
		return "canceled"
	default:
		return "unknown_failure"
	}
}

// Response is one logical HTTP response, or a synthetic stand-in when the
// transport did not succeed.
type Response struct {
	StatusCode int
	Headers    Header
	Body       Body
	Verdict    TransportVerdict
}

// Category classifies this response's status code, or CategoryNetworkFailure
// if the transport verdict indicates no response was actually received.
func (r Response) Category() StatusCategory {
	if r.Verdict != TransportSuccess {
		return CategoryNetworkFailure
	}
	return ClassifyStatus(r.StatusCode)
}

// NoResponse is the synthetic sentinel used as ClusterResult.SelectedResponse
// when no attempt produced anything worth returning.
var NoResponse = Response{Verdict: TransportUnknownFailure}

// Verdict is the classification a response criterion assigns to one
// ReplicaResult.
type Verdict int

const (
	DontKnow Verdict = iota
	Accept
	Reject
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	default:
		return "dont_know"
	}
}

// ReplicaResult is the immutable record of one completed attempt against
// one replica.
type ReplicaResult struct {
	Replica  Replica
	Response Response
	Verdict  Verdict
	Elapsed  time.Duration
}

// ClusterStatus is the terminal status of one logical request.
type ClusterStatus int

const (
	StatusSuccess ClusterStatus = iota
	StatusReplicasNotFound
	StatusReplicasExhausted
	StatusTimeExpired
	StatusThrottled
	StatusIncorrectArguments
	StatusUnexpectedException
	StatusCanceled
)

func (s ClusterStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusReplicasNotFound:
		return "replicas_not_found"
	case StatusReplicasExhausted:
		return "replicas_exhausted"
	case StatusTimeExpired:
		return "time_expired"
	case StatusThrottled:
		return "throttled"
	case StatusIncorrectArguments:
		return "incorrect_arguments"
	case StatusUnexpectedException:
		return "unexpected_exception"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ClusterResult is the terminal outcome of one logical request: the
// status, the full ordered list of ReplicaResults produced (in completion
// order, not start order), the selected response, and the original
// request.
type ClusterResult struct {
	Status           ClusterStatus
	ReplicaResults   []ReplicaResult
	SelectedResponse Response
	Request          Request
	Err              error
}
