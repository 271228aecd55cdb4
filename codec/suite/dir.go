package suite

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/errgroup"

	"github.com/twintail/twintail/api"
	"github.com/twintail/twintail/service/status"
)

// Failure records one file the batch could not process.
type Failure struct {
	Name string
	Kind status.Kind
	Err  error
}

// DirResult summarizes a batch transform over a directory.
type DirResult struct {
	Written  int
	Failures []Failure
}

func (r DirResult) Failed() bool {
	return len(r.Failures) > 0
}

// EncryptDir encrypts every .json file under inDir into outDir.
// Per-file failures are collected, not fatal: the result carries them.
// Duplicate logical keys within the batch are rejected, keeping
// decryption destination-disjoint.
func EncryptDir(ctx context.Context, inDir, outDir string, region api.Region, concurrency int) (DirResult, error) {
	files, err := listFiles(inDir, func(name string) bool {
		return strings.HasSuffix(name, ".json")
	})
	if err != nil {
		return DirResult{}, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return DirResult{}, err
	}

	var mu sync.Mutex
	result := DirResult{}
	seenKeys := map[string]string{}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)
	for counter, file := range files {
		group.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			data, err := os.ReadFile(file)
			if err != nil {
				recordFailure(&mu, &result, file, status.WithKind(status.KindIo, err))
				return nil
			}
			key, blob, err := Encrypt(data, region)
			if err != nil {
				recordFailure(&mu, &result, file, err)
				return nil
			}
			mu.Lock()
			if prev, dup := seenKeys[key]; dup {
				mu.Unlock()
				recordFailure(&mu, &result, file,
					status.Errorf(status.KindCodec, "key %q already used by %s", key, prev))
				return nil
			}
			seenKeys[key] = file
			mu.Unlock()
			dest := filepath.Join(outDir, CiphertextName(blob, counter))
			if err := renameio.WriteFile(dest, blob, 0o644); err != nil {
				recordFailure(&mu, &result, file, status.WithKind(status.KindIo, err))
				return nil
			}
			mu.Lock()
			result.Written++
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return result, err
	}
	return result, ctx.Err()
}

// DecryptDir decrypts every file under inDir into outDir.
// Each output lands at "{key}.json" relative to outDir, where key is the
// document's logical key (keys may contain path separators).
func DecryptDir(ctx context.Context, inDir, outDir string, region api.Region, concurrency int) (DirResult, error) {
	files, err := listFiles(inDir, func(string) bool { return true })
	if err != nil {
		return DirResult{}, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return DirResult{}, err
	}

	var mu sync.Mutex
	result := DirResult{}
	seenKeys := map[string]string{}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)
	for _, file := range files {
		group.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			data, err := os.ReadFile(file)
			if err != nil {
				recordFailure(&mu, &result, file, status.WithKind(status.KindIo, err))
				return nil
			}
			key, jsonBytes, err := Decrypt(data, region)
			if err != nil {
				recordFailure(&mu, &result, file, err)
				return nil
			}
			if !fs.ValidPath(key) || strings.Contains(key, "..") {
				recordFailure(&mu, &result, file,
					status.Errorf(status.KindCodec, "illegal key %q", key))
				return nil
			}
			mu.Lock()
			if prev, dup := seenKeys[key]; dup {
				mu.Unlock()
				recordFailure(&mu, &result, file,
					status.Errorf(status.KindCodec, "key %q already written from %s", key, prev))
				return nil
			}
			seenKeys[key] = file
			mu.Unlock()
			dest := filepath.Join(outDir, filepath.FromSlash(key)+".json")
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				recordFailure(&mu, &result, file, status.WithKind(status.KindIo, err))
				return nil
			}
			if err := renameio.WriteFile(dest, jsonBytes, 0o644); err != nil {
				recordFailure(&mu, &result, file, status.WithKind(status.KindIo, err))
				return nil
			}
			mu.Lock()
			result.Written++
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return result, err
	}
	return result, ctx.Err()
}

func recordFailure(mu *sync.Mutex, result *DirResult, name string, err error) {
	mu.Lock()
	defer mu.Unlock()
	result.Failures = append(result.Failures, Failure{
		Name: name,
		Kind: status.KindOf(err),
		Err:  err,
	})
}

// listFiles returns the matching regular files under dir,
// sorted for deterministic batch counters.
func listFiles(dir string, match func(string) bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if match(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
