package cmdhelper

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/twintail/twintail/service/pipeline"
	"github.com/twintail/twintail/service/status"
)

// TransformPath applies a pure byte transform to a file, or to every
// file under a tree when recursive is set. An empty out means in-place.
// Per-file failures are collected, not fatal.
func TransformPath(in, out string, recursive bool, transform func([]byte) ([]byte, error)) (written int, failures []pipeline.JobFailure, err error) {
	info, err := os.Stat(in)
	if err != nil {
		return 0, nil, err
	}

	if !info.IsDir() {
		if out == "" {
			out = in
		}
		if err := transformFile(in, out, transform); err != nil {
			return 0, []pipeline.JobFailure{{Name: in, Kind: status.KindOf(err), Err: err}}, nil
		}
		return 1, nil, nil
	}

	if !recursive {
		return 0, nil, status.Errorf(status.KindConfig, "%s is a directory (use --recursive)", in)
	}
	err = filepath.WalkDir(in, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		destination := path
		if out != "" {
			rel, relErr := filepath.Rel(in, path)
			if relErr != nil {
				return relErr
			}
			destination = filepath.Join(out, rel)
			if mkdirErr := os.MkdirAll(filepath.Dir(destination), 0o755); mkdirErr != nil {
				return mkdirErr
			}
		}
		if fileErr := transformFile(path, destination, transform); fileErr != nil {
			failures = append(failures, pipeline.JobFailure{Name: path, Kind: status.KindOf(fileErr), Err: fileErr})
			return nil
		}
		written++
		return nil
	})
	return written, failures, err
}

func transformFile(in, out string, transform func([]byte) ([]byte, error)) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return status.WithKind(status.KindIo, err)
	}
	transformed, err := transform(data)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(out, transformed, 0o644); err != nil {
		return status.WithKind(status.KindIo, err)
	}
	return nil
}
