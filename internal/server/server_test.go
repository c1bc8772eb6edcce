package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cassandra/internal/config"
	"cassandra/internal/storage"
)

// fakeModel is an OpenAI-compatible endpoint answering every request with
// the same reply. It records the system prompt it was sent.
type fakeModel struct {
	*httptest.Server
	mu      sync.Mutex
	systems []string
}

func newFakeModel(t *testing.T, reply string) *fakeModel {
	t.Helper()
	m := &fakeModel{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil && len(req.Messages) > 0 {
			m.mu.Lock()
			m.systems = append(m.systems, req.Messages[0].Content)
			m.mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`, reply)
	}))
	t.Cleanup(m.Close)
	return m
}

func testConfig(t *testing.T, endpoint string) *config.Config {
	t.Helper()
	return &config.Config{
		Gateway: config.GatewayConfig{Host: "127.0.0.1", Port: 0},
		Model: config.ModelConfig{
			Endpoint: endpoint,
			APIKey:   "sk-test",
			Model:    "gpt-test",
			Timeout:  5 * time.Second,
			Stream:   false,
		},
		Summarizer: config.SummarizerConfig{Timeout: 5 * time.Second},
		History:    config.HistoryConfig{Threshold: 20, Tail: 4, OnSummaryFailure: "keep"},
		Persona:    config.PersonaConfig{Text: "You are Cassandra, a music curator."},
		Storage:    config.StorageConfig{Path: filepath.Join(t.TempDir(), "data.db")},
	}
}

func TestNewServices_RunsTurn(t *testing.T) {
	model := newFakeModel(t, "Try Blue Train.")
	cfg := testConfig(t, model.URL)

	db, err := storage.Open(cfg.Storage.Path)
	require.NoError(t, err)
	defer db.Close()

	svc, err := NewServices(cfg, db)
	require.NoError(t, err)
	defer svc.Close(context.Background())

	res, err := svc.Dispatcher.Run(context.Background(), "", "some jazz?", nil)
	require.NoError(t, err)
	assert.Equal(t, "Try Blue Train.", res.Reply)

	model.mu.Lock()
	assert.Equal(t, []string{"You are Cassandra, a music curator."}, model.systems)
	model.mu.Unlock()

	msgs, err := db.GetMessages(context.Background(), res.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Try Blue Train.", msgs[1].Content)
}

func TestNewServices_Errors(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	db, err := storage.Open(cfg.Storage.Path)
	require.NoError(t, err)
	defer db.Close()

	noPersona := *cfg
	noPersona.Persona = config.PersonaConfig{Path: filepath.Join(t.TempDir(), "missing.txt")}
	_, err = NewServices(&noPersona, db)
	assert.ErrorContains(t, err, "persona")

	badPolicy := *cfg
	badPolicy.History.OnSummaryFailure = "explode"
	_, err = NewServices(&badPolicy, db)
	assert.Error(t, err)
}

func TestNewServices_UnreachableModelApologizes(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	db, err := storage.Open(cfg.Storage.Path)
	require.NoError(t, err)
	defer db.Close()

	svc, err := NewServices(cfg, db)
	require.NoError(t, err)
	defer svc.Close(context.Background())

	res, err := svc.Dispatcher.Run(context.Background(), "s1", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "Apologies, something went wrong. Please try again.", res.Reply)
	assert.Equal(t, 2, res.Turns)
}

func TestServer_StartStop(t *testing.T) {
	model := newFakeModel(t, "Kind of Blue.")
	cfg := testConfig(t, model.URL)

	srv, err := NewServer(ServerConfig{Config: cfg, Version: "test"})
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	base := "http://" + srv.Addr()
	resp, err := http.Get(base + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(base+"/api/v1/chat", "application/json", bytes.NewBufferString(`{"message":"jazz?"}`))
	require.NoError(t, err)
	var body struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Kind of Blue.", body.Message)
	assert.NotEmpty(t, body.SessionID)

	require.NoError(t, srv.Stop())
	assert.NoError(t, srv.Stop(), "second Stop is a no-op")
	assert.Error(t, srv.Start(), "a stopped server cannot restart")
}

func TestNewServer_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Model.APIKey = ""

	_, err := NewServer(ServerConfig{Config: cfg})
	assert.ErrorIs(t, err, config.ErrMissingAPIKey)

	_, err = NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestNewServer_Retention(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Retention = config.RetentionConfig{Enabled: true, Schedule: "not a schedule", MaxAge: time.Hour}

	_, err := NewServer(ServerConfig{Config: cfg})
	assert.Error(t, err)

	cfg.Retention.Schedule = "@hourly"
	srv, err := NewServer(ServerConfig{Config: cfg})
	require.NoError(t, err)
	require.NotNil(t, srv.pruner)
	require.NoError(t, srv.Start())
	require.NoError(t, srv.Stop())
}
