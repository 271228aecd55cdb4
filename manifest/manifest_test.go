package manifest_test

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twintail/twintail/manifest"
)

func sampleInfo() manifest.AssetbundleInfo {
	return manifest.AssetbundleInfo{
		Version: "4.1.0.10",
		OS:      "android",
		Hash:    "abcdef",
		Bundles: map[string]manifest.Bundle{
			"event/bg001":     {BundleName: "event/bg001", Hash: "#1", FileSize: 1024},
			"character/c0001": {BundleName: "character/c0001", Hash: "#2", Dependencies: []string{"event/bg001"}},
		},
	}
}

func TestParseRoundTrip(t *testing.T) {
	info := sampleInfo()
	path := filepath.Join(t.TempDir(), "info.json")
	require.NoError(t, info.WriteFile(path))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	parsed, err := manifest.Parse(file)
	require.NoError(t, err)
	assert.Equal(t, info, parsed)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := manifest.Parse(strings.NewReader("{not json"))
	var decodeErr manifest.DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestValidateRejectsBadNames(t *testing.T) {
	for _, name := range []string{"", "/abs/path", "a/../escape", `win\path`} {
		info := manifest.AssetbundleInfo{
			Version: "1",
			Bundles: map[string]manifest.Bundle{name: {BundleName: name, Hash: "#1"}},
		}
		err := info.Validate()
		require.Error(t, err, "name %q", name)
		var validationErr manifest.ValidationError
		assert.ErrorAs(t, err, &validationErr)
	}
}

func TestValidateRejectsUnresolvedDependencies(t *testing.T) {
	info := manifest.AssetbundleInfo{
		Version: "1",
		Bundles: map[string]manifest.Bundle{
			"a": {BundleName: "a", Hash: "#1", Dependencies: []string{"missing"}},
		},
	}
	assert.Error(t, info.Validate())
}

func TestValidateRejectsEmptyManifest(t *testing.T) {
	info := manifest.AssetbundleInfo{Version: "1"}
	assert.Error(t, info.Validate())
}

func TestDiff(t *testing.T) {
	old := manifest.AssetbundleInfo{
		Version: "1",
		Bundles: map[string]manifest.Bundle{
			"a": {BundleName: "a", Hash: "#1"},
			"b": {BundleName: "b", Hash: "#2"},
		},
	}
	current := manifest.AssetbundleInfo{
		Version: "2",
		Bundles: map[string]manifest.Bundle{
			"a": {BundleName: "a", Hash: "#1"},
			"b": {BundleName: "b", Hash: "#3"},
			"c": {BundleName: "c", Hash: "#4"},
		},
	}

	diff := current.Diff(&old)
	assert.Equal(t, "2", diff.Version)
	assert.ElementsMatch(t, []string{"b", "c"}, diff.Names())
}

func TestFilter(t *testing.T) {
	info := sampleInfo()
	filtered := info.Filter(regexp.MustCompile(`^event/`))
	assert.Equal(t, []string{"event/bg001"}, filtered.Names())
}
