package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/homeservices-identity/internal/account"
	"github.com/hongminglow/homeservices-identity/internal/auth"
	"github.com/hongminglow/homeservices-identity/internal/notify"
	"github.com/hongminglow/homeservices-identity/internal/storage"
)

type capture struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (c *capture) Send(_ context.Context, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type harness struct {
	srv        *httptest.Server
	store      storage.Store
	dispatcher *notify.Dispatcher
	outbox     *capture
	tokens     *auth.TokenManager
}

func newHarness(t *testing.T, store storage.Store, tokens *auth.TokenManager) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	outbox := &capture{}
	dispatcher := notify.NewDispatcher(outbox, logger, time.Second)
	if tokens == nil {
		var err error
		tokens, err = auth.NewTokenManager("handler-test-secret", "homeservices-identity", 0)
		require.NoError(t, err)
	}
	svc := account.NewService(account.Deps{
		Users:      store,
		Profiles:   store,
		Tokens:     tokens,
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	r := chi.NewRouter()
	NewHealthHandler(time.Now()).Register(r)
	NewAuthHandler(svc, logger).Register(r)
	NewUsersHandler(svc, logger).Register(r)
	NewProfileHandler(svc, logger).Register(r)
	NewWorkersHandler(svc, logger).Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		dispatcher.Wait()
	})
	return &harness{srv: srv, store: store, dispatcher: dispatcher, outbox: outbox, tokens: tokens}
}

// do sends a JSON request and returns the status and raw body.
func (h *harness) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, h.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

// code returns the challenge currently stored for email.
func (h *harness) code(t *testing.T, email string) string {
	t.Helper()
	h.dispatcher.Wait()
	user, err := h.store.FindByEmail(context.Background(), email)
	require.NoError(t, err)
	require.True(t, user.HasChallenge(), "no outstanding challenge for %s", email)
	return *user.OTP
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}
