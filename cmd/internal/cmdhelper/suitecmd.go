package cmdhelper

import (
	"context"
	"flag"

	"github.com/twintail/twintail/api"
	"github.com/twintail/twintail/codec/suite"
	"github.com/twintail/twintail/internal/logging"
	"github.com/twintail/twintail/service/pipeline"
)

// SuiteConcurrency resolves the worker count for directory transforms.
func SuiteConcurrency(config api.GlobalConfig) int {
	if config.Concurrency > 0 {
		return config.Concurrency
	}
	return pipeline.DefaultConcurrency()
}

// RunSuiteTransform drives one suite directory transform plus the
// optional fsnotify watch loop. Shared by the encrypt and decrypt
// commands.
func RunSuiteTransform(ctx context.Context, in, out string, watch bool, config api.GlobalConfig,
	transform func(context.Context, string, string, api.GlobalConfig) (suite.DirResult, error),
) int {
	if watch && out == "" {
		return Usagef("--watch requires an explicit OUT directory")
	}
	runOnce := func() (suite.DirResult, error) {
		result, err := transform(ctx, in, out, config)
		if err == nil {
			logging.Basicf("%d files written, %d failed", result.Written, len(result.Failures))
		}
		return result, err
	}
	result, err := runOnce()
	if err != nil {
		return Fatalf("%v", err)
	}
	if result.Failed() {
		PrintFailureSummary(SuiteFailures(result))
	}
	if !watch {
		if result.Failed() {
			return ExitPartialFailure
		}
		return ExitSuccess
	}

	err = WatchDir(ctx, in, func() error {
		result, err := runOnce()
		if err == nil && result.Failed() {
			PrintFailureSummary(SuiteFailures(result))
		}
		return err
	})
	if err != nil && ctx.Err() == nil {
		return Fatalf("watching %s: %v", in, err)
	}
	return ExitInterrupt
}

// SuiteFailures converts batch failures into summary records.
func SuiteFailures(result suite.DirResult) []pipeline.JobFailure {
	failures := make([]pipeline.JobFailure, 0, len(result.Failures))
	for _, failure := range result.Failures {
		failures = append(failures, pipeline.JobFailure{Name: failure.Name, Kind: failure.Kind, Err: failure.Err})
	}
	return failures
}

// InOutArgs reads the positional IN and optional OUT arguments.
// The returned code is negative when parsing succeeded.
func InOutArgs(flagSet *flag.FlagSet) (in, out string, code int) {
	switch flagSet.NArg() {
	case 1:
		return flagSet.Arg(0), "", -1
	case 2:
		return flagSet.Arg(0), flagSet.Arg(1), -1
	}
	flagSet.Usage()
	return "", "", ExitUsage
}

// TransformExitCode folds a tree-transform outcome into an exit code.
func TransformExitCode(written int, failures []pipeline.JobFailure, err error) int {
	if err != nil {
		return Fatalf("%v", err)
	}
	logging.Basicf("%d files written, %d failed", written, len(failures))
	if len(failures) > 0 {
		PrintFailureSummary(failures)
		return ExitPartialFailure
	}
	return ExitSuccess
}
