package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/obiwan-smirnobi/clusterclient.core/replica"
	"github.com/obiwan-smirnobi/clusterclient.core/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransport_SendRoundTrips(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	defer server.Close()

	tr := transport.NewHTTPTransport(server.Client())
	req := replica.Request{
		Method:    replica.MethodGet,
		TargetURL: server.URL,
		Headers:   replica.Header{},
	}

	resp, err := tr.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, replica.TransportSuccess, resp.Verdict)
	assert.Equal(t, "hello", string(resp.Body.Buffer))
	assert.Equal(t, "yes", resp.Headers.Get("X-Test"))
}

func TestHTTPTransport_ConnectFailureClassified(t *testing.T) {
	t.Parallel()

	tr := transport.NewHTTPTransport(http.DefaultClient)
	req := replica.Request{
		Method:    replica.MethodGet,
		TargetURL: "http://127.0.0.1:1", // nothing listens here
		Headers:   replica.Header{},
	}

	resp, err := tr.Send(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, replica.TransportConnectFailure, resp.Verdict)
}

func TestHTTPTransport_SupportsStreamingAndComposite(t *testing.T) {
	t.Parallel()

	tr := transport.NewHTTPTransport(nil)
	assert.True(t, tr.Supports(transport.RequestStreaming))
	assert.True(t, tr.Supports(transport.RequestCompositeBody))
}
