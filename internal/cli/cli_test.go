package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	v1 "cassandra/api/v1"
	"cassandra/internal/config"
	"cassandra/internal/storage"
)

func TestTerminalDisplay_Streaming(t *testing.T) {
	var buf bytes.Buffer
	d := newTerminalDisplay(&buf)

	d.ShowUser("ignored")
	d.ShowPartial("Hel")
	d.ShowPartial("Hello")
	d.ShowPartial("Hello world")
	d.ShowAssistant("Hello world")

	assert.Equal(t, "Hello world\n", buf.String())
}

func TestTerminalDisplay_ApologyReplacesPartial(t *testing.T) {
	var buf bytes.Buffer
	d := newTerminalDisplay(&buf)

	d.ShowPartial("Hel")
	d.ShowAssistant("Apologies, something went wrong. Please try again.")

	assert.Equal(t, "Hel\nApologies, something went wrong. Please try again.\n", buf.String())
}

func TestTerminalDisplay_Batch(t *testing.T) {
	var buf bytes.Buffer
	d := newTerminalDisplay(&buf)
	d.ShowAssistant("Try Blue Train.")
	d.ShowAssistant("Next one.")
	assert.Equal(t, "Try Blue Train.\nNext one.\n", buf.String())
}

func TestRunInteractiveChat(t *testing.T) {
	type call struct{ session, message string }
	var calls []call
	run := func(_ context.Context, sessionID, message string, out io.Writer) (string, error) {
		calls = append(calls, call{sessionID, message})
		if message == "boom" {
			return sessionID, fmt.Errorf("server returned 500")
		}
		fmt.Fprint(out, "reply")
		if sessionID == "" {
			return "s-new", nil
		}
		return sessionID, nil
	}

	in := strings.NewReader("hello\n\n  \nboom\nagain\nnew\nfresh\nquit\nignored\n")
	var out bytes.Buffer
	require.NoError(t, runInteractiveChat(context.Background(), in, &out, "", run))

	assert.Equal(t, []call{
		{"", "hello"},
		{"s-new", "boom"},
		{"s-new", "again"},
		{"", "fresh"},
	}, calls)
	assert.Contains(t, out.String(), "Error: server returned 500")
	assert.Contains(t, out.String(), "Starting a new conversation.")
}

func TestRunInteractiveChat_LastLineWithoutNewline(t *testing.T) {
	var got []string
	run := func(_ context.Context, sid, message string, _ io.Writer) (string, error) {
		got = append(got, message)
		return "s1", nil
	}
	require.NoError(t, runInteractiveChat(context.Background(), strings.NewReader("one\ntwo"), io.Discard, "", run))
	assert.Equal(t, []string{"one", "two"}, got)
}

func sseServer(t *testing.T, status int, events ...v1.ChatStreamEvent) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chat/stream", r.URL.Path)
		var req v1.ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"code":"INPUT_TOO_LONG","message":"message is too long"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteTurn_Stream(t *testing.T) {
	srv := sseServer(t, http.StatusOK,
		v1.ChatStreamEvent{Type: v1.EventContent, Delta: "Hel", Text: "Hel"},
		v1.ChatStreamEvent{Type: v1.EventContent, Delta: "lo", Text: "Hello"},
		v1.ChatStreamEvent{Type: v1.EventDone, SessionID: "s9", Message: "Hello", Turns: 2},
	)

	var out bytes.Buffer
	sid, err := remoteTurn(srv.Client(), srv.URL)(context.Background(), "", "hi", &out)
	require.NoError(t, err)
	assert.Equal(t, "s9", sid)
	assert.Equal(t, "Hello\n", out.String())
}

func TestRemoteTurn_Errors(t *testing.T) {
	rejected := sseServer(t, http.StatusBadRequest)
	_, err := remoteTurn(rejected.Client(), rejected.URL)(context.Background(), "", "hi", io.Discard)
	assert.ErrorContains(t, err, "message is too long")

	failed := sseServer(t, http.StatusOK, v1.ChatStreamEvent{Type: v1.EventError, Code: "INTERNAL_ERROR", Error: "queue closed"})
	_, err = remoteTurn(failed.Client(), failed.URL)(context.Background(), "s1", "hi", io.Discard)
	assert.ErrorContains(t, err, "queue closed")

	truncated := sseServer(t, http.StatusOK, v1.ChatStreamEvent{Type: v1.EventContent, Text: "Hel"})
	_, err = remoteTurn(truncated.Client(), truncated.URL)(context.Background(), "s1", "hi", io.Discard)
	assert.ErrorContains(t, err, "before the reply was complete")
}

func TestRunInit(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("CASSANDRA_MODEL_API_KEY", "")
	t.Cleanup(config.Reset)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	var out bytes.Buffer

	err := RunInit(&InitOptions{ConfigPath: configPath, APIKey: "sk-test-1234"}, strings.NewReader(""), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Initialized Cassandra")

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	var written config.Config
	require.NoError(t, yaml.Unmarshal(data, &written))
	assert.Equal(t, "sk-test-1234", written.Model.APIKey)
	assert.Equal(t, 20, written.History.Threshold)
	assert.Equal(t, 4, written.History.Tail)
	assert.Equal(t, filepath.Join(dir, "system_prompt.txt"), written.Persona.Path)

	persona, err := os.ReadFile(filepath.Join(dir, "system_prompt.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(persona), "Cassandra")
	assert.FileExists(t, filepath.Join(dir, "data.db"))

	err = RunInit(&InitOptions{ConfigPath: configPath}, strings.NewReader(""), io.Discard)
	assert.ErrorContains(t, err, "already exists")

	// piped stdin supplies the key when no flag is given
	err = RunInit(&InitOptions{ConfigPath: configPath, Force: true}, strings.NewReader("sk-piped\n"), io.Discard)
	require.NoError(t, err)
	data, err = os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sk-piped")
}

func TestMaskValue(t *testing.T) {
	assert.Equal(t, "***", maskValue("abc"))
	assert.Equal(t, "sk********34", maskValue("sk-test-1234"))
}

func TestFlattenSettings(t *testing.T) {
	keys := flattenSettings("", map[string]any{
		"model":   map[string]any{"api_key": "x", "model": "y"},
		"version": "1.0.0",
	})
	assert.ElementsMatch(t, []string{"model.api_key", "model.model", "version"}, keys)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestVersionCmd_JSON(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--json"})
	require.NoError(t, cmd.Execute())

	var info BuildInfo
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

// writeConfig writes a config file pointing storage and logs into dir.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`model:
  api_key: sk-test-1234
persona:
  text: You are Cassandra.
log:
  level: error
  file: ""
storage:
  path: %s
`, filepath.Join(dir, "data.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("CASSANDRA_MODEL_API_KEY", "")
	t.Cleanup(config.Reset)
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSessionCommands(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir)

	db, err := storage.Open(filepath.Join(dir, "data.db"))
	require.NoError(t, err)
	sess, err := db.CreateSessionWithID(context.Background(), "s1", nil)
	require.NoError(t, err)
	_, err = db.AppendMessage(context.Background(), sess.ID, "user", "any jazz?")
	require.NoError(t, err)
	_, err = db.AppendMessage(context.Background(), sess.ID, "assistant", "Kind of Blue.")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	out, err := execute(t, "--config", configPath, "session", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "s1")
	assert.Contains(t, out, "MESSAGES")

	out, err = execute(t, "--config", configPath, "session", "show", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "[user] any jazz?")
	assert.Contains(t, out, "[assistant] Kind of Blue.")

	_, err = execute(t, "--config", configPath, "session", "show", "missing")
	assert.ErrorContains(t, err, "session not found")

	out, err = execute(t, "--config", configPath, "session", "delete", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted session s1")

	out, err = execute(t, "--config", configPath, "session", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions.")
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir)

	out, err := execute(t, "--config", configPath, "config", "get", "model.api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk********34\n", out)

	out, err = execute(t, "--config", configPath, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, configPath+"\n", out)

	_, err = execute(t, "--config", configPath, "config", "set", "model.nonsense", "1")
	assert.ErrorContains(t, err, "unknown config key")

	_, err = execute(t, "--config", configPath, "config", "set", "model.model", "gpt-5-mini")
	require.NoError(t, err)
	out, err = execute(t, "--config", configPath, "config", "get", "model.model")
	require.NoError(t, err)
	assert.Equal(t, "gpt-5-mini\n", out)
}
