// Package client is the typed request layer over the game's private
// HTTP surface: region header blocks, MessagePack bodies, out-of-band
// session token promotion and a retry policy with exponential backoff.
package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/twintail/twintail/api"
	"github.com/twintail/twintail/crypto"
	"github.com/twintail/twintail/internal/logging"
	"github.com/twintail/twintail/manifest"
	"github.com/twintail/twintail/service/status"
)

// ErrVersionMismatch is returned when the server answers
// 426 Upgrade Required: the embedded credentials describe an app
// version older than what the server accepts. It is fatal for the
// whole run.
var ErrVersionMismatch = errors.New("server requires a newer app version")

// Config parameterizes a Client.
type Config struct {
	Region      api.Region
	Platform    api.Platform
	Credentials api.AppCredentials
	// RetryBudget is the number of retries per request (not attempts).
	RetryBudget int
	// ConnectTimeout bounds dialing; zero means 10s.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the whole request; zero means 30s.
	ReadTimeout time.Duration
	// BaseURL overrides the region's API base. Tests only.
	BaseURL string
	// AssetBaseURL overrides discovered asset hosts. Tests only.
	AssetBaseURL string
}

// Client talks to one region deployment.
// It is safe for concurrent use once the handshake has completed.
type Client struct {
	httpClient  *http.Client
	profile     regionProfile
	region      api.Region
	platform    api.Platform
	credentials api.AppCredentials
	installID   string
	retryBudget int
	apiBase     string
	assetBase   string

	mu sync.Mutex
	// mutable header state, promoted from responses during the handshake
	sessionToken string
	assetVersion string
	dataVersion  string
}

func New(cfg Config) *Client {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 10 * time.Second
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}
	profile := regionProfiles[cfg.Region]
	apiBase := profile.apiBase
	if cfg.BaseURL != "" {
		apiBase = cfg.BaseURL
	}
	retryBudget := cfg.RetryBudget
	if retryBudget <= 0 {
		retryBudget = 3
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
				TLSHandshakeTimeout: connectTimeout,
			},
		},
		profile:     profile,
		region:      cfg.Region,
		platform:    cfg.Platform,
		credentials: cfg.Credentials,
		installID:   uuid.NewString(),
		retryBudget: retryBudget,
		apiBase:     apiBase,
		assetBase:   cfg.AssetBaseURL,
	}
}

// SessionToken returns the last promoted session token.
func (c *Client) SessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionToken
}

// SetVersions pins the asset- and data-version headers attached to
// subsequent requests. Called by the handshake after the system query.
func (c *Client) SetVersions(assetVersion, dataVersion string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assetVersion = assetVersion
	c.dataVersion = dataVersion
}

// userRegistration is the response of the registration endpoint.
type userRegistration struct {
	UserID     int64  `msgpack:"userId"`
	Credential string `msgpack:"credential"`
}

// authResponse is the response of the auth endpoint.
type authResponse struct {
	SessionToken string `msgpack:"sessionToken"`
	AssetHost    string `msgpack:"assetbundleHost"`
	AppVersion   string `msgpack:"appVersion"`
	AssetVersion string `msgpack:"assetVersion"`
	DataVersion  string `msgpack:"dataVersion"`
}

// assetVersionResponse is the response of the asset version query.
type assetVersionResponse struct {
	AssetVersion string `msgpack:"assetVersion"`
	AssetHash    string `msgpack:"assetHash"`
}

// suiteIndexResponse lists the suitemaster split files.
type suiteIndexResponse struct {
	SplitPaths  []string `msgpack:"suiteMasterSplitPath"`
	DataVersion string   `msgpack:"dataVersion"`
}

// inheritResponse carries the save-data JWT.
type inheritResponse struct {
	Credential string `msgpack:"credential"`
}

// GetSystemInfo performs handshake step 1.
func (c *Client) GetSystemInfo(ctx context.Context) (api.SystemInfo, error) {
	var info api.SystemInfo
	err := c.do(ctx, http.MethodGet, c.apiBase+"/api/system", nil, &info)
	return info, err
}

// RegisterUser performs handshake step 2: an empty-body POST that
// assigns a throwaway user.
func (c *Client) RegisterUser(ctx context.Context) (int64, string, error) {
	var reg userRegistration
	err := c.do(ctx, http.MethodPost, c.apiBase+"/api/user", map[string]any{}, &reg)
	if err != nil {
		return 0, "", err
	}
	if reg.UserID == 0 || reg.Credential == "" {
		return 0, "", status.Errorf(status.KindProtocol, "registration response missing user id or credential")
	}
	return reg.UserID, reg.Credential, nil
}

// Authenticate performs handshake step 3 and promotes the session token.
func (c *Client) Authenticate(ctx context.Context, userID int64, credential string) (assetHost string, err error) {
	var auth authResponse
	url := fmt.Sprintf("%s/api/user/%d/auth?refreshUpdatedResources=False", c.apiBase, userID)
	if err := c.do(ctx, http.MethodPut, url, map[string]any{"credential": credential}, &auth); err != nil {
		return "", err
	}
	if auth.SessionToken != "" {
		c.mu.Lock()
		c.sessionToken = auth.SessionToken
		c.mu.Unlock()
	}
	if c.SessionToken() == "" {
		return "", status.Errorf(status.KindProtocol, "auth response did not promote a session token")
	}
	if c.assetBase != "" {
		return c.assetBase, nil
	}
	return auth.AssetHost, nil
}

// GetAssetVersion performs handshake step 4.
func (c *Client) GetAssetVersion(ctx context.Context, userID int64) (assetVersion, assetHash string, err error) {
	var resp assetVersionResponse
	url := fmt.Sprintf("%s/api/suite/user/%d/assetbundle", c.apiBase, userID)
	if err := c.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return "", "", err
	}
	if resp.AssetVersion == "" {
		return "", "", status.Errorf(status.KindProtocol, "asset version query returned no version")
	}
	return resp.AssetVersion, resp.AssetHash, nil
}

// GetAssetbundleInfo fetches the current manifest.
func (c *Client) GetAssetbundleInfo(ctx context.Context, sctx *api.SessionContext) (manifest.AssetbundleInfo, error) {
	var info manifest.AssetbundleInfo
	if err := c.do(ctx, http.MethodGet, AssetbundleInfoURL(sctx), nil, &info); err != nil {
		return manifest.AssetbundleInfo{}, err
	}
	if err := info.Validate(); err != nil {
		return manifest.AssetbundleInfo{}, status.WithKind(status.KindProtocol, err)
	}
	return info, nil
}

// GetSuiteIndex fetches the suitemaster split-file paths.
func (c *Client) GetSuiteIndex(ctx context.Context) ([]string, error) {
	var resp suiteIndexResponse
	if err := c.do(ctx, http.MethodGet, c.apiBase+"/api/suite/master", nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.SplitPaths) == 0 {
		return nil, status.Errorf(status.KindProtocol, "suite index listed no files")
	}
	return resp.SplitPaths, nil
}

// SuiteFileURL resolves a split-file path from the suite index.
func (c *Client) SuiteFileURL(path string) string {
	return c.apiBase + path
}

// GetSaveData exchanges an account transfer id and password for the
// save-data JWT. The verify token is the hex HMAC-SHA256 of id+password
// under the region's save key.
func (c *Client) GetSaveData(ctx context.Context, transferID, password string) (string, error) {
	token := hex.EncodeToString(crypto.HMACSHA256(crypto.SaveKey(c.region), []byte(transferID+password)))
	var resp inheritResponse
	url := fmt.Sprintf("%s/api/inherit/user/%s?isExecuteInherit=False", c.apiBase, transferID)
	extraHeaders := http.Header{headerInheritToken: []string{token}}
	if err := c.doWithHeaders(ctx, http.MethodPost, url, map[string]any{}, &resp, extraHeaders); err != nil {
		return "", err
	}
	if resp.Credential == "" {
		return "", status.Errorf(status.KindProtocol, "inherit response carried no save credential")
	}
	return resp.Credential, nil
}

// GetRaw fetches url with the region header block and returns the raw
// body. Used by the pipeline for CDN payloads.
func (c *Client) GetRaw(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return backoff.Permanent(status.WithKind(status.KindConfig, err))
		}
		c.applyHeaders(req, nil)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return status.WithKind(status.KindNetwork, err)
		}
		defer resp.Body.Close()
		if err := c.checkStatus(resp); err != nil {
			return err
		}
		c.promoteSessionToken(resp)
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return status.WithKind(status.KindNetwork, err)
		}
		return nil
	})
	return body, err
}

func (c *Client) do(ctx context.Context, method, url string, reqBody, respBody any) error {
	return c.doWithHeaders(ctx, method, url, reqBody, respBody, nil)
}

func (c *Client) doWithHeaders(ctx context.Context, method, url string, reqBody, respBody any, extra http.Header) error {
	var encoded []byte
	if reqBody != nil {
		var err error
		encoded, err = msgpack.Marshal(reqBody)
		if err != nil {
			// an unencodable request body is a programmer error
			return status.WithKind(status.KindConfig, err)
		}
	}
	return c.retry(ctx, func() error {
		var bodyReader io.Reader = http.NoBody
		if encoded != nil {
			bodyReader = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return backoff.Permanent(status.WithKind(status.KindConfig, err))
		}
		c.applyHeaders(req, extra)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return status.WithKind(status.KindNetwork, err)
		}
		defer resp.Body.Close()
		if err := c.checkStatus(resp); err != nil {
			return err
		}
		c.promoteSessionToken(resp)
		if respBody == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return status.WithKind(status.KindNetwork, err)
		}
		if err := msgpack.Unmarshal(raw, respBody); err != nil {
			return backoff.Permanent(status.Errorf(status.KindProtocol, "decoding %s response: %v", url, err))
		}
		return nil
	})
}

// retry runs op under the client's backoff policy: exponential with
// jitter, capped by the retry budget. Permanent errors pass through.
func (c *Client) retry(ctx context.Context, op func() error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = 10 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(c.retryBudget)), ctx)
	return backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		logging.Debugf("request failed, retrying in %s: %v", wait.Truncate(time.Millisecond), err)
	})
}

// checkStatus maps an HTTP status to the error taxonomy.
// 5xx is retryable, 4xx is permanent, except 426 which is the server's
// upgrade-required signal and fatal for the whole run.
func (c *Client) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUpgradeRequired:
		return backoff.Permanent(status.WithKind(status.KindVersionMismatch, ErrVersionMismatch))
	case resp.StatusCode >= 500:
		return status.Errorf(status.KindProtocol, "unexpected status code %d for %s", resp.StatusCode, resp.Request.URL)
	default:
		return backoff.Permanent(status.Errorf(status.KindProtocol, "unexpected status code %d for %s", resp.StatusCode, resp.Request.URL))
	}
}

// applyHeaders attaches the region header block. Every outbound request
// carries it; a missing required header would be a programmer error, so
// the block is assembled unconditionally.
func (c *Client) applyHeaders(req *http.Request, extra http.Header) {
	c.mu.Lock()
	sessionToken := c.sessionToken
	assetVersion := c.assetVersion
	dataVersion := c.dataVersion
	c.mu.Unlock()

	req.Header.Set(headerContentType, contentTypeMsgpack)
	req.Header.Set(headerAccept, contentTypeMsgpack)
	req.Header.Set(headerUserAgent, c.profile.userAgent)
	req.Header.Set(headerAppVersion, c.credentials.Version)
	req.Header.Set(headerAppHash, c.credentials.Hash)
	req.Header.Set(headerPlatform, platformHeaderValue(c.platform))
	req.Header.Set(headerDeviceModel, c.profile.deviceModel)
	req.Header.Set(headerOSVersion, c.profile.osVersion)
	req.Header.Set(headerUnityVersion, c.profile.unityVersion)
	req.Header.Set(headerInstallID, c.installID)
	if assetVersion != "" {
		req.Header.Set(headerAssetVersion, assetVersion)
	}
	if dataVersion != "" {
		req.Header.Set(headerDataVersion, dataVersion)
	}
	if sessionToken != "" {
		req.Header.Set(headerSessionToken, sessionToken)
	}
	for name, values := range extra {
		for _, value := range values {
			req.Header.Set(name, value)
		}
	}
}

// promoteSessionToken adopts a token offered out-of-band by any
// successful response, cookie-like but in a custom header.
func (c *Client) promoteSessionToken(resp *http.Response) {
	token := resp.Header.Get(headerSessionToken)
	if token == "" {
		return
	}
	c.mu.Lock()
	c.sessionToken = token
	c.mu.Unlock()
}
