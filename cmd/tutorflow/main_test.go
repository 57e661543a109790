package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompletions answers routing calls with a tool list and structured
// calls with flashcard parameters.
func fakeCompletions(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			ResponseFormat *struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		content := "Flashcard Generator Tool"
		if req.ResponseFormat != nil {
			content = `{"topic":"derivatives","count":5,"difficulty":"easy","subject":"Calculus"}`
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"model":   "test-model",
			"choices": []any{map[string]any{"index": 0, "message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := `
oracle:
  providers:
    fake:
      base_url: ` + baseURL + `
      api_key: test
      api: openai-completions
  primary: fake/test-model
audit:
  driver: sqlite
  dsn: ` + filepath.Join(dir, "audit.db") + `
log:
  level: error
`
	path := filepath.Join(dir, "tutorflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestVersionFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"-version"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(out.String(), "tutorflow "))
}

func TestCatalogSchemaFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	require.Equal(t, 0, run(context.Background(), []string{"-catalog-schema"}, &out, &errOut))
	var doc map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	assert.Contains(t, out.String(), `"trigger"`)
}

func TestInvokeOnce(t *testing.T) {
	srv, calls := fakeCompletions(t)
	path := writeConfig(t, srv.URL)

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"-config", path, "-env", "", "-invoke", "5 easy flashcards on derivatives"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())

	var resp struct {
		InputMessage  string           `json:"input_message"`
		FinalPayloads []map[string]any `json:"final_payloads"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "5 easy flashcards on derivatives", resp.InputMessage)
	require.Len(t, resp.FinalPayloads, 1)
	assert.EqualValues(t, 5, resp.FinalPayloads[0]["count"])
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("oracle:\n  primary: nowhere/model\n"), 0o600))

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"-config", path, "-env", "", "-invoke", "hi"}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "not configured")
}

func TestBadFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), []string{"-nope"}, &out, &errOut))
}
