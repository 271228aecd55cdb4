// Package session implements the multi-stage handshake that discovers
// a region's current asset host and version and yields the
// SessionContext every asset-fetching operation requires.
package session

import (
	"context"
	"fmt"

	"github.com/twintail/twintail/api"
	"github.com/twintail/twintail/client"
	"github.com/twintail/twintail/internal/logging"
	"github.com/twintail/twintail/service/status"
)

// State tracks the resolver through the handshake.
type State int

const (
	Fresh State = iota
	SystemKnown
	UserRegistered
	Authenticated
	AssetResolved
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case SystemKnown:
		return "system-known"
	case UserRegistered:
		return "user-registered"
	case Authenticated:
		return "authenticated"
	case AssetResolved:
		return "asset-resolved"
	}
	return "unknown"
}

// Resolver drives the handshake state machine:
//
//	Fresh -> SystemKnown -> UserRegistered -> Authenticated -> AssetResolved
//
// A failure before Authenticated restarts from Fresh; the final asset
// version query is retryable in place.
type Resolver struct {
	client      *client.Client
	region      api.Region
	platform    api.Platform
	credentials api.AppCredentials

	state      State
	system     api.SystemInfo
	userID     int64
	credential string
	assetHost  string
}

func NewResolver(c *client.Client, region api.Region, platform api.Platform, credentials api.AppCredentials) *Resolver {
	return &Resolver{
		client:      c,
		region:      region,
		platform:    platform,
		credentials: credentials,
	}
}

// State returns the resolver's current state.
func (r *Resolver) State() State {
	return r.state
}

// restartBudget bounds how often a pre-auth failure restarts the
// handshake from Fresh before giving up.
const restartBudget = 2

// Resolve runs the handshake to completion.
func (r *Resolver) Resolve(ctx context.Context) (*api.SessionContext, error) {
	var lastErr error
	for attempt := 0; attempt <= restartBudget; attempt++ {
		if attempt > 0 {
			logging.Warningf("handshake failed at %s, restarting (%d/%d): %v", r.state, attempt, restartBudget, lastErr)
			r.reset()
		}
		sctx, err := r.resolveOnce(ctx)
		if err == nil {
			return sctx, nil
		}
		lastErr = err
		if !status.KindOf(err).Retryable() || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (r *Resolver) resolveOnce(ctx context.Context) (*api.SessionContext, error) {
	if err := r.querySystem(ctx); err != nil {
		return nil, err
	}
	if err := r.registerUser(ctx); err != nil {
		return nil, err
	}
	if err := r.authenticate(ctx); err != nil {
		return nil, err
	}
	// The asset version query is retryable without tearing the
	// session down.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		sctx, err := r.resolveAssetVersion(ctx)
		if err == nil {
			return sctx, nil
		}
		lastErr = err
		if !status.KindOf(err).Retryable() || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (r *Resolver) querySystem(ctx context.Context) error {
	system, err := r.client.GetSystemInfo(ctx)
	if err != nil {
		return fmt.Errorf("querying system info: %w", err)
	}
	if system.AppVersion != "" && system.AppVersion != r.credentials.Version {
		return status.Errorf(status.KindVersionMismatch,
			"app version outdated: server runs %s, credentials are for %s", system.AppVersion, r.credentials.Version)
	}
	r.system = system
	r.client.SetVersions(system.AssetVersion, system.DataVersion)
	r.state = SystemKnown
	logging.Debugf("system known: app %s, asset %s, data %s", system.AppVersion, system.AssetVersion, system.DataVersion)
	return nil
}

func (r *Resolver) registerUser(ctx context.Context) error {
	userID, credential, err := r.client.RegisterUser(ctx)
	if err != nil {
		return fmt.Errorf("registering user: %w", err)
	}
	r.userID = userID
	r.credential = credential
	r.state = UserRegistered
	logging.Debugf("registered user %d", userID)
	return nil
}

func (r *Resolver) authenticate(ctx context.Context) error {
	assetHost, err := r.client.Authenticate(ctx, r.userID, r.credential)
	if err != nil {
		return fmt.Errorf("authenticating user %d: %w", r.userID, err)
	}
	if assetHost == "" {
		return status.Errorf(status.KindProtocol, "auth response named no asset host")
	}
	r.assetHost = assetHost
	r.state = Authenticated
	logging.Debugf("authenticated, asset host %s", assetHost)
	return nil
}

func (r *Resolver) resolveAssetVersion(ctx context.Context) (*api.SessionContext, error) {
	assetVersion, assetHash, err := r.client.GetAssetVersion(ctx, r.userID)
	if err != nil {
		return nil, fmt.Errorf("resolving asset version: %w", err)
	}
	r.system.AssetVersion = assetVersion
	if assetHash != "" {
		r.system.AssetHash = assetHash
	}
	r.client.SetVersions(assetVersion, r.system.DataVersion)
	r.state = AssetResolved

	sctx := &api.SessionContext{
		System:       r.system,
		AssetHost:    r.assetHost,
		SessionToken: r.client.SessionToken(),
		UserID:       r.userID,
		Region:       r.region,
		Platform:     r.platform,
	}
	if err := sctx.Ready(); err != nil {
		return nil, status.WithKind(status.KindProtocol, err)
	}
	logging.Basicf("session ready: asset version %s on %s", assetVersion, r.assetHost)
	return sctx, nil
}

func (r *Resolver) reset() {
	*r = Resolver{
		client:      r.client,
		region:      r.region,
		platform:    r.platform,
		credentials: r.credentials,
	}
}
