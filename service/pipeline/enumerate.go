package pipeline

import (
	"path/filepath"
	"sort"

	"github.com/twintail/twintail/api"
	"github.com/twintail/twintail/client"
	"github.com/twintail/twintail/manifest"
)

// BundleJobs enumerates one job per manifest entry. Destinations are
// disjoint by construction: bundle names are unique map keys and become
// the output paths. Jobs come out in name order so single-worker runs
// are deterministic.
func BundleJobs(sctx *api.SessionContext, info manifest.AssetbundleInfo, outDir string, keepEncrypted bool, retryBudget int) []Job {
	var transform Transform = BundleDecode{}
	if keepEncrypted {
		transform = Identity{}
	}
	jobs := make([]Job, 0, len(info.Bundles))
	for _, name := range info.Names() {
		entry := info.Bundles[name]
		jobs = append(jobs, Job{
			Name:         name,
			SourceURL:    client.AssetbundleURL(sctx, name),
			Destination:  filepath.Join(outDir, filepath.FromSlash(name)),
			Transform:    transform,
			ExpectedHash: entry.Hash,
			RetryBudget:  retryBudget,
		})
	}
	return jobs
}

// SuiteJobs enumerates one job per suitemaster split file.
// Decoded output names come from each document's logical key; encrypted
// mirrors keep the server-side file names.
func SuiteJobs(c *client.Client, paths []string, outDir string, region api.Region, keepEncrypted bool, retryBudget int) []Job {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	jobs := make([]Job, 0, len(sorted))
	for _, p := range sorted {
		job := Job{
			Name:        p,
			SourceURL:   c.SuiteFileURL(p),
			RetryBudget: retryBudget,
		}
		if keepEncrypted {
			job.Destination = filepath.Join(outDir, filepath.Base(p))
			job.Transform = Identity{}
		} else {
			job.Destination = outDir
			job.Transform = SuiteDecode{Region: region}
		}
		jobs = append(jobs, job)
	}
	return jobs
}
