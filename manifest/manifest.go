// Package manifest models the assetbundle-info document: the
// server-authoritative index of current bundles that drives mirroring
// and incremental diffs.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"regexp"
	"sort"
	"strings"

	"github.com/google/renameio/v2"
)

// Bundle is a single manifest entry.
type Bundle struct {
	// BundleName is a POSIX-style path relative to the asset root.
	BundleName string `json:"bundleName" msgpack:"bundleName"`
	// Hash identifies the current content of the bundle.
	// Diffs compare hashes, never file contents.
	Hash     string `json:"hash" msgpack:"hash"`
	Category string `json:"category,omitempty" msgpack:"category"`
	CRC      uint32 `json:"crc,omitempty" msgpack:"crc"`
	FileSize uint64 `json:"fileSize,omitempty" msgpack:"fileSize"`
	// Dependencies are bundle names that must resolve in the same manifest.
	Dependencies []string `json:"dependencies,omitempty" msgpack:"dependencies"`
}

// AssetbundleInfo is the manifest document.
type AssetbundleInfo struct {
	Version string            `json:"version" msgpack:"version"`
	OS      string            `json:"os,omitempty" msgpack:"os"`
	Hash    string            `json:"hash,omitempty" msgpack:"hash"`
	Bundles map[string]Bundle `json:"bundles" msgpack:"bundles"`
}

// DecodeError distinguishes a syntactically broken manifest from
// other failures.
type DecodeError struct {
	cause error
}

func (e DecodeError) Error() string {
	return "decoding manifest: " + e.cause.Error()
}

func (e DecodeError) Unwrap() error {
	return e.cause
}

// Parse reads the JSON form of the manifest (the on-disk dump written
// by "fetch ab-info" and consumed by --info).
func Parse(r io.Reader) (AssetbundleInfo, error) {
	var info AssetbundleInfo
	dec := json.NewDecoder(r)
	if err := dec.Decode(&info); err != nil {
		return AssetbundleInfo{}, DecodeError{cause: err}
	}
	if err := info.Validate(); err != nil {
		return AssetbundleInfo{}, err
	}
	return info, nil
}

// Validate checks the manifest invariants: bundle names are relative
// POSIX paths without ".." segments, and every dependency resolves
// within the same manifest.
func (i *AssetbundleInfo) Validate() error {
	if len(i.Bundles) == 0 {
		return errors.New("empty manifest")
	}
	issues := []string{}
	for name, bundle := range i.Bundles {
		issuesForBundle := []string{}
		if !validBundleName(name) {
			issuesForBundle = append(issuesForBundle, "bundle name must be a relative POSIX path without \"..\" segments")
		}
		if bundle.Hash == "" {
			issuesForBundle = append(issuesForBundle, `"hash" may not be empty`)
		}
		for _, dep := range bundle.Dependencies {
			if _, ok := i.Bundles[dep]; !ok {
				issuesForBundle = append(issuesForBundle, fmt.Sprintf("dependency %q does not resolve", dep))
			}
		}
		if len(issuesForBundle) > 0 {
			issues = append(issues, name+": "+strings.Join(issuesForBundle, ", "))
		}
	}
	if len(issues) > 0 {
		sort.Strings(issues)
		return ValidationError{issues: issues}
	}
	return nil
}

func validBundleName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	if !fs.ValidPath(name) {
		return false
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return false
		}
	}
	return true
}

// Diff returns the subset of bundles that changed relative to old:
// entries whose hash differs, plus entries old does not know.
// The returned manifest keeps the receiver's version metadata.
func (i *AssetbundleInfo) Diff(old *AssetbundleInfo) AssetbundleInfo {
	out := AssetbundleInfo{
		Version: i.Version,
		OS:      i.OS,
		Hash:    i.Hash,
		Bundles: make(map[string]Bundle),
	}
	for name, bundle := range i.Bundles {
		oldBundle, known := old.Bundles[name]
		if !known || oldBundle.Hash != bundle.Hash {
			out.Bundles[name] = bundle
		}
	}
	return out
}

// Filter returns the subset of bundles whose name matches re.
func (i *AssetbundleInfo) Filter(re *regexp.Regexp) AssetbundleInfo {
	out := AssetbundleInfo{
		Version: i.Version,
		OS:      i.OS,
		Hash:    i.Hash,
		Bundles: make(map[string]Bundle),
	}
	for name, bundle := range i.Bundles {
		if re.MatchString(name) {
			out.Bundles[name] = bundle
		}
	}
	return out
}

// Names returns the bundle names in sorted order.
func (i *AssetbundleInfo) Names() []string {
	names := make([]string, 0, len(i.Bundles))
	for name := range i.Bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteFile dumps the manifest as indented JSON, atomically.
func (i *AssetbundleInfo) WriteFile(path string) error {
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, append(data, '\n'), 0o644)
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	return "manifest validation failed:\n  " + strings.Join(e.issues, "\n  ")
}
