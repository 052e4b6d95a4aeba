package service

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testkit/metrics"
)

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func get(t *testing.T, url string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header = header
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.DefaultClient.Do(req)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	return resp
}

func TestHealthzServer(t *testing.T) {
	ln := listen(t)
	h := &HealthzServer{}
	done := make(chan error, 1)
	go func() { done <- h.Serve(context.Background(), ln) }()

	resp := get(t, "http://"+ln.Addr().String()+"/healthz", http.Header{"Origin": []string{"http://example.com"}})
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	require.NoError(t, h.Shutdown())
	assert.True(t, errors.Is(<-done, http.ErrServerClosed))
}

func TestMetricsServer(t *testing.T) {
	metrics.RecordError("service_test")

	ln := listen(t)
	m := &MetricsServer{}
	done := make(chan error, 1)
	go func() { done <- m.Serve(context.Background(), ln) }()

	resp := get(t, "http://"+ln.Addr().String()+"/metrics", nil)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `testkit_errors_total{error="service_test"}`)

	require.NoError(t, m.Shutdown())
	assert.ErrorIs(t, <-done, http.ErrServerClosed)
}

func TestShutdownBeforeStart(t *testing.T) {
	s := New(log.NewLogger(log.DiscardHandler()), Config{})
	s.Start(context.Background())
	s.Shutdown()
	assert.NoError(t, s.Healthz.Shutdown())
	assert.NoError(t, s.Metrics.Shutdown())
}
