package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/twintail/twintail/api"
	"github.com/twintail/twintail/client"
	"github.com/twintail/twintail/service/session"
	"github.com/twintail/twintail/service/status"
)

type mockServer struct {
	*httptest.Server
	systemCalls   atomic.Int32
	registerCalls atomic.Int32
	authCalls     atomic.Int32
	assetCalls    atomic.Int32

	appVersion       string
	failRegistration atomic.Bool
}

func newMockServer(t *testing.T, appVersion string) *mockServer {
	m := &mockServer{appVersion: appVersion}
	mux := http.NewServeMux()
	respond := func(w http.ResponseWriter, body any) {
		encoded, err := msgpack.Marshal(body)
		require.NoError(t, err)
		w.Write(encoded)
	}
	mux.HandleFunc("GET /api/system", func(w http.ResponseWriter, r *http.Request) {
		m.systemCalls.Add(1)
		respond(w, map[string]any{
			"serverVersion":    "srv-1",
			"appVersion":       m.appVersion,
			"multiPlayVersion": "miniko",
			"assetVersion":     "4.1.0.10",
			"assetHash":        "asset-hash",
			"dataVersion":      "4.1.0.05",
		})
	})
	mux.HandleFunc("POST /api/user", func(w http.ResponseWriter, r *http.Request) {
		m.registerCalls.Add(1)
		if m.failRegistration.Load() {
			m.failRegistration.Store(false)
			respond(w, map[string]any{})
			return
		}
		respond(w, map[string]any{"userId": int64(9991), "credential": "user-cred"})
	})
	mux.HandleFunc("PUT /api/user/9991/auth", func(w http.ResponseWriter, r *http.Request) {
		m.authCalls.Add(1)
		w.Header().Set("X-Session-Token", "session-abc")
		respond(w, map[string]any{
			"sessionToken":    "session-abc",
			"assetbundleHost": "https://assets.example.test",
		})
	})
	mux.HandleFunc("GET /api/suite/user/9991/assetbundle", func(w http.ResponseWriter, r *http.Request) {
		m.assetCalls.Add(1)
		respond(w, map[string]any{"assetVersion": "4.1.0.10", "assetHash": "asset-hash"})
	})
	m.Server = httptest.NewServer(mux)
	return m
}

func newResolver(serverURL string) (*client.Client, *session.Resolver) {
	credentials := api.AppCredentials{Version: "4.1.0", Hash: "hash-uuid", Platform: api.PlatformAndroid}
	c := client.New(client.Config{
		Region:      api.RegionJapan,
		Platform:    api.PlatformAndroid,
		Credentials: credentials,
		RetryBudget: 1,
		BaseURL:     serverURL,
	})
	return c, session.NewResolver(c, api.RegionJapan, api.PlatformAndroid, credentials)
}

func TestResolveHappyPath(t *testing.T) {
	server := newMockServer(t, "4.1.0")
	defer server.Close()

	_, resolver := newResolver(server.URL)
	sctx, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	require.NoError(t, sctx.Ready())

	assert.Equal(t, session.AssetResolved, resolver.State())
	assert.Equal(t, int64(9991), sctx.UserID)
	assert.Equal(t, "session-abc", sctx.SessionToken)
	assert.Equal(t, "https://assets.example.test", sctx.AssetHost)
	assert.Equal(t, "4.1.0.10", sctx.System.AssetVersion)
	assert.Equal(t, "asset-hash", sctx.System.AssetHash)
	assert.Equal(t, api.RegionJapan, sctx.Region)

	// the five steps ran in order, exactly once each
	assert.Equal(t, int32(1), server.systemCalls.Load())
	assert.Equal(t, int32(1), server.registerCalls.Load())
	assert.Equal(t, int32(1), server.authCalls.Load())
	assert.Equal(t, int32(1), server.assetCalls.Load())
}

func TestResolveAbortsOnOutdatedVersion(t *testing.T) {
	server := newMockServer(t, "9.9.9")
	defer server.Close()

	_, resolver := newResolver(server.URL)
	_, err := resolver.Resolve(context.Background())
	require.Error(t, err)
	assert.Equal(t, status.KindVersionMismatch, status.KindOf(err))
	// registration never happened
	assert.Zero(t, server.registerCalls.Load())
}

func TestResolveRestartsFromFresh(t *testing.T) {
	server := newMockServer(t, "4.1.0")
	defer server.Close()
	server.failRegistration.Store(true)

	_, resolver := newResolver(server.URL)
	sctx, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	require.NoError(t, sctx.Ready())

	// the failed registration forced a restart from the system query
	assert.GreaterOrEqual(t, server.systemCalls.Load(), int32(2))
	assert.GreaterOrEqual(t, server.registerCalls.Load(), int32(2))
}

func TestResolveSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	defer server.Close()

	_, resolver := newResolver(server.URL)
	_, err := resolver.Resolve(context.Background())
	require.Error(t, err)
	assert.Equal(t, status.KindProtocol, status.KindOf(err))
	assert.NotEqual(t, session.AssetResolved, resolver.State())
}
