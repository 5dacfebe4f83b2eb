package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRouter_AcquireUnknownModel(t *testing.T) {
	r, err := NewRouter(RouterConfig{Models: map[string]ModelConfig{}})
	require.NoError(t, err)

	_, release, err := r.Acquire(context.Background(), "mystery-model")
	release()
	require.Error(t, err)
}

func TestRouter_RoutesByModelPattern(t *testing.T) {
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"response":"ok","prompt_eval_count":10,"eval_count":5}`))
	}))
	defer local.Close()

	r, err := NewRouter(RouterConfig{
		LocalBaseURL: local.URL,
		Models: map[string]ModelConfig{
			"llama3.1:70b": {Profile: ProfileMedium},
		},
	})
	require.NoError(t, err)

	client, release, err := r.Acquire(context.Background(), "llama3.1:70b")
	require.NoError(t, err)
	defer release()
	require.Equal(t, KindLocal, client.Kind())

	text, usage, err := client.Generate(context.Background(), "hello", Options{})
	require.NoError(t, err)
	require.Equal(t, "ok", text)
	require.Equal(t, 10, usage.Tokens.Input)
	require.Equal(t, 0.0, usage.CostUSD)
}

func TestRouter_ReleaseAlwaysCalled(t *testing.T) {
	r, err := NewRouter(RouterConfig{Models: map[string]ModelConfig{"x": {}}})
	require.NoError(t, err)

	err = r.Use(context.Background(), "x", func(c Client) error {
		require.Equal(t, 1, r.InUse())
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 0, r.InUse())
}
