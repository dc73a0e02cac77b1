package metrics

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelFileName(t *testing.T) {
	assert.Equal(t, "vmaf_v0.6.1.json", ModelFileName(false))
	assert.Equal(t, "vmaf_v0.6.1neg.json", ModelFileName(true))
}

func TestEnsureModel_Downloads(t *testing.T) {
	var requested string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		w.Write([]byte(`{"model": true}`))
	}))
	defer server.Close()

	oldBase := modelBaseURL
	modelBaseURL = server.URL
	defer func() { modelBaseURL = oldBase }()

	client := retryablehttp.NewClient()
	client.Logger = nil
	dir := t.TempDir()

	name, err := EnsureModel(client, dir, false)
	require.NoError(t, err)
	assert.Equal(t, "vmaf_v0.6.1.json", name)
	assert.Equal(t, "/vmaf_v0.6.1.json", requested)

	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.JSONEq(t, `{"model": true}`, string(data))
}

func TestEnsureModel_SkipsExisting(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "vmaf_v0.6.1neg.json")
	require.NoError(t, os.WriteFile(existing, []byte(`{}`), 0o644))

	// No server; an attempted download would fail.
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 0

	name, err := EnsureModel(client, dir, true)
	require.NoError(t, err)
	assert.Equal(t, "vmaf_v0.6.1neg.json", name)
}

func TestEnsureModel_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	oldBase := modelBaseURL
	modelBaseURL = server.URL
	defer func() { modelBaseURL = oldBase }()

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 0

	_, err := EnsureModel(client, t.TempDir(), false)
	assert.Error(t, err)
}
