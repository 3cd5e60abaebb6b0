package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/llmrelay/testutil/fixtures"
)

func writeConfig(t *testing.T, baseURL string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
log:
  level: error
cache:
  dir: %s
  backend: sql
retry:
  max_retries: 0
database:
  driver: sqlite
models:
  - id: claude-3-5-sonnet
    providers:
      - name: anthropic
        model: claude-3-5-sonnet-20241022
        priority: 10
        base_url: %s
        api_key: sk-ant-test
        pricing:
          prompt_per_million: 3
          completion_per_million: 15
      - name: openrouter
        model: anthropic/claude-3.5-sonnet
        priority: 5
        base_url: %s
        api_key: sk-or-test
        pricing:
          prompt_per_million: 3.5
          completion_per_million: 16
        sub_providers:
          - name: bedrock
            model: anthropic.claude-3-5-sonnet
            priority: 2
            pricing:
              prompt_per_million: 3.2
              completion_per_million: 15.5
`, dir, baseURL, baseURL)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path, dir
}

func TestRun_VersionAndHelp(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"version"}, nil, &out))
	assert.Contains(t, out.String(), "LLMRelay dev")

	out.Reset()
	require.NoError(t, run([]string{"help"}, nil, &out))
	assert.Contains(t, out.String(), "Usage:")

	assert.ErrorContains(t, run([]string{"serve"}, nil, io.Discard), "unknown command")
	assert.Error(t, run(nil, nil, io.Discard))
}

func TestRun_Resolve(t *testing.T) {
	path, _ := writeConfig(t, "https://api.example")

	var out bytes.Buffer
	require.NoError(t, run([]string{"resolve", "--config", path, "--model", "claude-3-5-sonnet"}, nil, &out))

	lines := strings.Split(out.String(), "\n")
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Contains(t, lines[1], "anthropic")
	assert.Contains(t, lines[2], "openrouter")
	assert.Contains(t, lines[3], "openrouter/bedrock")
	assert.Contains(t, out.String(), "0.018000", "1000*3/1e6 + 1000*15/1e6")

	out.Reset()
	require.NoError(t, run([]string{"resolve", "--config", path, "--model", "claude-3-5-sonnet", "--exclude", "anthropic,bedrock"}, nil, &out))
	lines = strings.Split(out.String(), "\n")
	assert.Contains(t, lines[1], "openrouter")
	assert.Empty(t, strings.TrimSpace(lines[2]))
	assert.NotContains(t, out.String(), "bedrock")

	assert.ErrorContains(t, run([]string{"resolve", "--config", path}, nil, io.Discard), "--model is required")
	assert.Error(t, run([]string{"resolve", "--config", path, "--model", "missing"}, nil, io.Discard))
}

func TestRun_SendThenCacheCommands(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer sk-ant-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, fixtures.MessagesSSE)
	}))
	defer srv.Close()

	path, dir := writeConfig(t, srv.URL)
	body := filepath.Join(dir, "request.json")
	require.NoError(t, os.WriteFile(body, []byte(fixtures.MessagesRequest), 0o600))

	for i := 0; i < 2; i++ {
		var out bytes.Buffer
		require.NoError(t, run([]string{"send", "--config", path, "--model", "claude-3-5-sonnet", "--body", body}, nil, &out))
		assert.Equal(t, fixtures.MessagesSSE, out.String())
	}
	assert.Equal(t, int32(1), hits.Load(), "second send served from the sql cache")

	var out bytes.Buffer
	require.NoError(t, run([]string{"cache", "keys", "--config", path}, nil, &out))
	assert.Len(t, strings.Fields(out.String()), 1)

	out.Reset()
	require.NoError(t, run([]string{"cache", "stats", "--config", path}, nil, &out))
	assert.Contains(t, out.String(), "Backend: sql")
	assert.Contains(t, out.String(), "Entries: 1")
	assert.Contains(t, out.String(), "DB connections:")

	out.Reset()
	require.NoError(t, run([]string{"cache", "prune", "--config", path}, nil, &out))
	assert.Contains(t, out.String(), "Removed 0 expired entries")

	assert.ErrorContains(t, run([]string{"cache", "vacuum", "--config", path}, nil, io.Discard), "unknown cache subcommand")
	assert.Error(t, run([]string{"cache"}, nil, io.Discard))
}

func TestRun_SendFromStdin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	path, _ := writeConfig(t, srv.URL)
	var out bytes.Buffer
	err := run([]string{"send", "--config", path, "--model", "claude-3-5-sonnet", "--keep-model"},
		strings.NewReader(`{"model":"client-side"}`), &out)
	require.NoError(t, err)
	assert.Equal(t, `{"model":"client-side"}`, out.String())
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b ,"))
}
