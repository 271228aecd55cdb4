package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twintail/twintail/api"
)

func TestDefaultConfigIsValid(t *testing.T) {
	config := api.DefaultConfig()
	require.NoError(t, config.Validate())
	assert.Equal(t, api.RegionJapan, config.Region())
	assert.Equal(t, api.PlatformAndroid, config.AppPlatform())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*api.GlobalConfig){
		"unknown server":   func(c *api.GlobalConfig) { c.Server = "korea" },
		"unknown platform": func(c *api.GlobalConfig) { c.Platform = "switch" },
		"negative retry":   func(c *api.GlobalConfig) { c.Retry = -1 },
		"bad filter":       func(c *api.GlobalConfig) { c.Filter = "([" },
		"bad log level":    func(c *api.GlobalConfig) { c.LogLevel = "verbose" },
	}
	for name, mutate := range cases {
		config := api.DefaultConfig()
		mutate(&config)
		assert.Error(t, config.Validate(), name)
	}
}

func TestRegionAliases(t *testing.T) {
	region, ok := api.RegionFromString("jp")
	require.True(t, ok)
	assert.Equal(t, api.RegionJapan, region)

	region, ok = api.RegionFromString("EN")
	require.True(t, ok)
	assert.Equal(t, api.RegionGlobal, region)

	_, ok = api.RegionFromString("other")
	assert.False(t, ok)
}

func TestSessionContextReady(t *testing.T) {
	sctx := &api.SessionContext{}
	assert.Error(t, sctx.Ready())

	sctx = &api.SessionContext{
		System:       api.SystemInfo{AssetVersion: "4.1.0.10"},
		AssetHost:    "https://assets.example.test",
		SessionToken: "token",
		UserID:       1,
	}
	assert.NoError(t, sctx.Ready())
}

func TestCredentialsValidate(t *testing.T) {
	assert.Error(t, api.AppCredentials{}.Validate())
	assert.Error(t, api.AppCredentials{Version: "1.0.0"}.Validate())
	assert.NoError(t, api.AppCredentials{Version: "1.0.0", Hash: "uuid"}.Validate())
}
