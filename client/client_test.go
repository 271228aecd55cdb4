package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/twintail/twintail/api"
	"github.com/twintail/twintail/client"
	"github.com/twintail/twintail/service/status"
)

func testCredentials() api.AppCredentials {
	return api.AppCredentials{
		Version:  "4.1.0",
		Hash:     "2d3cf2a3-6b22-4b6e-8f3f-2b6a3e4f5a6b",
		Platform: api.PlatformAndroid,
	}
}

func newTestClient(serverURL string) *client.Client {
	return client.New(client.Config{
		Region:      api.RegionJapan,
		Platform:    api.PlatformAndroid,
		Credentials: testCredentials(),
		RetryBudget: 2,
		BaseURL:     serverURL,
	})
}

func writeMsgpack(t *testing.T, w http.ResponseWriter, body any) {
	t.Helper()
	encoded, err := msgpack.Marshal(body)
	require.NoError(t, err)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(encoded)
}

func TestRequestCarriesHeaderBlock(t *testing.T) {
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		writeMsgpack(t, w, map[string]any{"appVersion": "4.1.0"})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.GetSystemInfo(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "4.1.0", gotHeaders.Get("X-App-Version"))
	assert.Equal(t, testCredentials().Hash, gotHeaders.Get("X-App-Hash"))
	assert.Equal(t, "Android", gotHeaders.Get("X-Platform"))
	assert.NotEmpty(t, gotHeaders.Get("X-Install-Id"))
	assert.NotEmpty(t, gotHeaders.Get("X-Devicemodel"))
	assert.NotEmpty(t, gotHeaders.Get("User-Agent"))
	// no session token before one was promoted
	assert.Empty(t, gotHeaders.Get("X-Session-Token"))
}

func TestSessionTokenPromotion(t *testing.T) {
	var sawToken atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawToken.Store(r.Header.Get("X-Session-Token"))
		w.Header().Set("X-Session-Token", "token-123")
		writeMsgpack(t, w, map[string]any{})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.GetSystemInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-123", c.SessionToken())

	// subsequent requests attach the promoted token
	_, err = c.GetSystemInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-123", sawToken.Load())
}

func TestRetryOn5xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeMsgpack(t, w, map[string]any{"appVersion": "4.1.0"})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	info, err := c.GetSystemInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4.1.0", info.AppVersion)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.GetSystemInfo(context.Background())
	require.Error(t, err)
	assert.Equal(t, status.KindProtocol, status.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestUpgradeRequiredIsVersionMismatch(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUpgradeRequired)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.GetSystemInfo(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrVersionMismatch)
	assert.Equal(t, status.KindVersionMismatch, status.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetRaw(t *testing.T) {
	payload := []byte{0x10, 0x00, 0x00, 0x00, 0xde, 0xad}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	got, err := c.GetRaw(context.Background(), server.URL+"/some/bundle")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestGetSaveDataSendsVerifyToken(t *testing.T) {
	var gotToken, gotURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Inherit-Id-Verify-Token")
		gotURL = r.URL.String()
		writeMsgpack(t, w, map[string]any{"credential": "jwt-token"})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	token, err := c.GetSaveData(context.Background(), "K7P2M9", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "jwt-token", token)
	assert.Regexp(t, `^[0-9a-f]{64}$`, gotToken)
	assert.Equal(t, "/api/inherit/user/K7P2M9?isExecuteInherit=False", gotURL)
}

func TestRequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		writeMsgpack(t, w, map[string]any{})
	}))
	defer server.Close()

	c := client.New(client.Config{
		Region:      api.RegionJapan,
		Platform:    api.PlatformAndroid,
		Credentials: testCredentials(),
		RetryBudget: 1,
		ReadTimeout: 50 * time.Millisecond,
		BaseURL:     server.URL,
	})
	_, err := c.GetSystemInfo(context.Background())
	require.Error(t, err)
	assert.Equal(t, status.KindNetwork, status.KindOf(err))
}
