package server

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/evogenom/ephemeral-auth/internal/auth"
	"github.com/evogenom/ephemeral-auth/internal/config"
	"github.com/evogenom/ephemeral-auth/internal/models"
	"github.com/evogenom/ephemeral-auth/internal/server/handler"
	"github.com/evogenom/ephemeral-auth/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rejectingTokens struct{}

func (rejectingTokens) Issue(context.Context, string) (*models.EphemeralToken, error) {
	return nil, tokens.ErrInvalidToken
}

func (rejectingTokens) Consume(context.Context, string) (models.Claims, error) {
	return nil, tokens.ErrInvalidOrConsumedToken
}

func newTestServer(t *testing.T, port int) *Server {
	t.Helper()
	cfg := &config.ServerConfig{Host: "127.0.0.1", Port: port, ShutdownTimeout: 2 * time.Second}
	h := handler.NewHandler(auth.NewService(&config.CORSConfig{}, rejectingTokens{}), nil)
	return NewServer(cfg, h)
}

// waitClosed asserts that Errors is closed without reporting a failure.
func waitClosed(t *testing.T, s *Server) {
	t.Helper()
	select {
	case err, ok := <-s.Errors():
		assert.False(t, ok, "unexpected serve error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve loop did not exit")
	}
}

func TestServerStartServesAndShutsDown(t *testing.T) {
	s := newTestServer(t, 0)
	assert.Equal(t, "127.0.0.1:0", s.Addr())

	require.NoError(t, s.Start(context.Background()))
	assert.NotEqual(t, "127.0.0.1:0", s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown(context.Background()))
	waitClosed(t, s)
}

func TestServerStartReturnsBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := newTestServer(t, ln.Addr().(*net.TCPAddr).Port)
	err = s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestServerShutdownWaitsForInFlightRequest(t *testing.T) {
	s := newTestServer(t, 0)

	entered := make(chan struct{})
	release := make(chan struct{})
	s.httpServer.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, s.Start(context.Background()))

	statuses := make(chan int, 1)
	go func() {
		resp, err := http.Get("http://" + s.Addr() + "/slow")
		if err != nil {
			statuses <- 0
			return
		}
		resp.Body.Close()
		statuses <- resp.StatusCode
	}()
	<-entered

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- s.Shutdown(context.Background()) }()

	select {
	case err := <-shutdownErr:
		t.Fatalf("shutdown returned before the request finished: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	assert.Equal(t, http.StatusOK, <-statuses)
	require.NoError(t, <-shutdownErr)
	waitClosed(t, s)
}
