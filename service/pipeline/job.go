package pipeline

import (
	"io/fs"
	"path"

	"github.com/twintail/twintail/api"
	"github.com/twintail/twintail/codec/bundle"
	"github.com/twintail/twintail/codec/suite"
	"github.com/twintail/twintail/service/status"
)

// Job is one fetch-transform-write task.
type Job struct {
	// Name identifies the job in progress output and failure records.
	Name string
	// SourceURL is where the payload is fetched from.
	SourceURL string
	// Destination is the output path. For transforms that derive their
	// own filename (suite decode), it is the output directory instead.
	Destination string
	// Transform converts the fetched payload before writing.
	Transform Transform
	// ExpectedHash, when set, is the MD5 (hex) of the payload as served
	// by the CDN. A mismatch consumes retry budget.
	ExpectedHash string
	// RetryBudget is the number of refetches after a hash mismatch.
	RetryBudget int
}

// Transform is a pure payload conversion. It may override the output
// location by returning a non-empty name relative to the job's
// Destination directory.
type Transform interface {
	Apply(data []byte) (out []byte, name string, err error)
}

// Identity passes the payload through unchanged.
type Identity struct{}

func (Identity) Apply(data []byte) ([]byte, string, error) {
	return data, "", nil
}

// BundleDecode converts a game-format assetbundle to a plain Unity bundle.
type BundleDecode struct{}

func (BundleDecode) Apply(data []byte) ([]byte, string, error) {
	out, err := bundle.Decode(data)
	if err != nil {
		return nil, "", status.WithKind(status.KindCodec, err)
	}
	return out, "", nil
}

// BundleEncode converts a plain Unity bundle to the game format.
type BundleEncode struct{}

func (BundleEncode) Apply(data []byte) ([]byte, string, error) {
	return bundle.Encode(data), "", nil
}

// SuiteDecode decrypts a suitemaster file; the output lands at
// "{key}.json" under the job's destination directory.
type SuiteDecode struct {
	Region api.Region
}

func (t SuiteDecode) Apply(data []byte) ([]byte, string, error) {
	key, jsonBytes, err := suite.Decrypt(data, t.Region)
	if err != nil {
		return nil, "", err
	}
	if !fs.ValidPath(key) {
		return nil, "", status.Errorf(status.KindCodec, "illegal key %q", key)
	}
	return jsonBytes, path.Clean(key) + ".json", nil
}
