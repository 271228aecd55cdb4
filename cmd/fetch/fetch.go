// Package fetch implements the "twintail fetch" command family:
// mirroring assetbundles, suitemaster data and save data from a live
// region server.
package fetch

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/renameio/v2"

	"github.com/twintail/twintail/api"
	"github.com/twintail/twintail/client"
	"github.com/twintail/twintail/cmd/internal/cmdhelper"
	"github.com/twintail/twintail/crypto"
	"github.com/twintail/twintail/internal/logging"
	"github.com/twintail/twintail/manifest"
	"github.com/twintail/twintail/service/pipeline"
	"github.com/twintail/twintail/service/session"
	"github.com/twintail/twintail/service/status"
)

const usage = `Usage: twintail fetch [TARGET] [ARGS...]

Targets:
  ab       Mirror assetbundles into a directory
  ab-info  Persist the current assetbundle manifest
  suite    Mirror suitemaster files into a directory
  save     Download and verify account save data`

func Run(ctx context.Context, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, usage)
		return cmdhelper.ExitUsage
	}
	switch args[0] {
	case "ab":
		return runAssetbundles(ctx, args[1:])
	case "ab-info":
		return runAssetbundleInfo(ctx, args[1:])
	case "suite":
		return runSuite(ctx, args[1:])
	case "save":
		return runSave(ctx, args[1:])
	}
	fmt.Fprintln(os.Stderr, usage)
	return cmdhelper.ExitUsage
}

// newSession runs the handshake for a validated config.
func newSession(ctx context.Context, config api.GlobalConfig) (*client.Client, *api.SessionContext, error) {
	credentials := config.Credentials()
	if err := credentials.Validate(); err != nil {
		return nil, nil, status.WithKind(status.KindConfig, err)
	}
	c := client.New(client.Config{
		Region:         config.Region(),
		Platform:       config.AppPlatform(),
		Credentials:    credentials,
		RetryBudget:    config.Retry,
		ConnectTimeout: time.Duration(config.ConnectTimeoutSeconds) * time.Second,
		ReadTimeout:    time.Duration(config.ReadTimeoutSeconds) * time.Second,
	})
	resolver := session.NewResolver(c, config.Region(), config.AppPlatform(), credentials)
	sctx, err := resolver.Resolve(ctx)
	if err != nil {
		return nil, nil, err
	}
	return c, sctx, nil
}

func runAssetbundles(ctx context.Context, args []string) int {
	var infoPath string
	var noUpdate, keepEncrypted bool

	flagSet := flag.NewFlagSet("fetch ab", flag.ContinueOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Mirrors assetbundles from a region server into a directory.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: twintail fetch ab [ARGS...] OUT_DIR\n")
		flagSet.PrintDefaults()
		examples := []string{
			"twintail fetch ab --version 4.1.0 --hash 2d3cf2a3-... bundles/",
			"twintail fetch ab --version 4.1.0 --hash 2d3cf2a3-... --info old.json --filter '^event' bundles/",
		}
		fmt.Fprintf(flagSet.Output(), "\nExamples:\n")
		for _, example := range examples {
			fmt.Fprintf(flagSet.Output(), "  $ %s\n", example)
		}
	}
	flagSet.StringVar(&infoPath, "info", "", "Path to a previously saved manifest; only changed bundles are fetched")
	flagSet.BoolVar(&noUpdate, "no-update", false, "Fetch exactly the bundles named by --info, ignoring the server manifest")
	flagSet.BoolVar(&keepEncrypted, "encrypt", false, "Keep bundles in the on-wire game format instead of decoding them")
	config, err := cmdhelper.InjectGlobalFlagsAndConfigure(args, flagSet,
		cmdhelper.FlagPresetSession|cmdhelper.FlagPresetPipeline|cmdhelper.FlagPresetFilter)
	if err != nil {
		return cmdhelper.Usagef("%v", err)
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return cmdhelper.ExitUsage
	}
	outDir := flagSet.Arg(0)
	if noUpdate && infoPath == "" {
		return cmdhelper.Usagef("--no-update requires --info")
	}

	c, sctx, err := newSession(ctx, config)
	if err != nil {
		return sessionExitCode(ctx, err)
	}

	var oldInfo *manifest.AssetbundleInfo
	if infoPath != "" {
		parsed, err := readManifestFile(infoPath)
		if err != nil {
			return cmdhelper.Fatalf("reading manifest %s: %v", infoPath, err)
		}
		oldInfo = &parsed
	}

	var info manifest.AssetbundleInfo
	if noUpdate {
		// The user-supplied manifest replaces the server's: every
		// bundle it names is downloaded regardless of server state.
		info = *oldInfo
	} else {
		info, err = c.GetAssetbundleInfo(ctx, sctx)
		if err != nil {
			return sessionExitCode(ctx, err)
		}
		if oldInfo != nil {
			info = info.Diff(oldInfo)
			logging.Basicf("%d bundles changed since %s", len(info.Bundles), oldInfo.Version)
		}
	}
	if config.Filter != "" {
		re, err := regexp.Compile(config.Filter)
		if err != nil {
			return cmdhelper.Usagef("invalid --filter: %v", err)
		}
		info = info.Filter(re)
	}
	if len(info.Bundles) == 0 {
		logging.Basicf("nothing to fetch")
		return cmdhelper.ExitSuccess
	}

	jobs := pipeline.BundleJobs(sctx, info, outDir, keepEncrypted, config.Retry)
	return runPipeline(ctx, c, jobs, config)
}

func runAssetbundleInfo(ctx context.Context, args []string) int {
	flagSet := flag.NewFlagSet("fetch ab-info", flag.ContinueOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Saves the current assetbundle manifest as <asset_version>.json.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: twintail fetch ab-info [ARGS...] [OUT_DIR]\n")
		flagSet.PrintDefaults()
	}
	config, err := cmdhelper.InjectGlobalFlagsAndConfigure(args, flagSet, cmdhelper.FlagPresetSession)
	if err != nil {
		return cmdhelper.Usagef("%v", err)
	}
	if flagSet.NArg() > 1 {
		flagSet.Usage()
		return cmdhelper.ExitUsage
	}
	outDir := "."
	if flagSet.NArg() == 1 {
		outDir = flagSet.Arg(0)
	}

	c, sctx, err := newSession(ctx, config)
	if err != nil {
		return sessionExitCode(ctx, err)
	}
	info, err := c.GetAssetbundleInfo(ctx, sctx)
	if err != nil {
		return sessionExitCode(ctx, err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return cmdhelper.Fatalf("creating %s: %v", outDir, err)
	}
	destination := filepath.Join(outDir, sctx.System.AssetVersion+".json")
	if err := info.WriteFile(destination); err != nil {
		return cmdhelper.Fatalf("writing %s: %v", destination, err)
	}
	logging.Basicf("saved manifest for %d bundles to %s", len(info.Bundles), destination)
	return cmdhelper.ExitSuccess
}

func runSuite(ctx context.Context, args []string) int {
	var keepEncrypted bool

	flagSet := flag.NewFlagSet("fetch suite", flag.ContinueOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Mirrors suitemaster gameplay data into a directory.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: twintail fetch suite [ARGS...] OUT_DIR\n")
		flagSet.PrintDefaults()
	}
	flagSet.BoolVar(&keepEncrypted, "encrypt", false, "Keep files encrypted instead of decoding them to JSON")
	config, err := cmdhelper.InjectGlobalFlagsAndConfigure(args, flagSet,
		cmdhelper.FlagPresetSession|cmdhelper.FlagPresetPipeline)
	if err != nil {
		return cmdhelper.Usagef("%v", err)
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return cmdhelper.ExitUsage
	}
	outDir := flagSet.Arg(0)

	c, _, err := newSession(ctx, config)
	if err != nil {
		return sessionExitCode(ctx, err)
	}
	paths, err := c.GetSuiteIndex(ctx)
	if err != nil {
		return sessionExitCode(ctx, err)
	}
	jobs := pipeline.SuiteJobs(c, paths, outDir, config.Region(), keepEncrypted, config.Retry)
	return runPipeline(ctx, c, jobs, config)
}

func runSave(ctx context.Context, args []string) int {
	var transferID, password string

	flagSet := flag.NewFlagSet("fetch save", flag.ContinueOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Downloads one account's save data and verifies its signature.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: twintail fetch save [ARGS...] [OUT_DIR]\n")
		flagSet.PrintDefaults()
	}
	flagSet.StringVar(&transferID, "id", "", "Account transfer id")
	flagSet.StringVar(&password, "password", "", "Account transfer password")
	config, err := cmdhelper.InjectGlobalFlagsAndConfigure(args, flagSet, cmdhelper.FlagPresetSession)
	if err != nil {
		return cmdhelper.Usagef("%v", err)
	}
	if flagSet.NArg() > 1 {
		flagSet.Usage()
		return cmdhelper.ExitUsage
	}
	if transferID == "" || password == "" {
		return cmdhelper.Usagef("--id and --password are required")
	}
	outDir := "."
	if flagSet.NArg() == 1 {
		outDir = flagSet.Arg(0)
	}

	c, _, err := newSession(ctx, config)
	if err != nil {
		return sessionExitCode(ctx, err)
	}
	token, err := c.GetSaveData(ctx, transferID, password)
	if err != nil {
		return sessionExitCode(ctx, err)
	}
	saveJSON, err := crypto.VerifySaveJWT(token, crypto.SaveKey(config.Region()))
	if err != nil {
		return cmdhelper.Fatalf("verifying save data: %v", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return cmdhelper.Fatalf("creating %s: %v", outDir, err)
	}
	destination := filepath.Join(outDir, "save.json")
	if err := renameio.WriteFile(destination, saveJSON, 0o644); err != nil {
		return cmdhelper.Fatalf("writing %s: %v", destination, err)
	}
	logging.Basicf("saved %s", destination)
	return cmdhelper.ExitSuccess
}

func runPipeline(ctx context.Context, c *client.Client, jobs []pipeline.Job, config api.GlobalConfig) int {
	summary, err := pipeline.Run(ctx, c, jobs, pipeline.Options{
		Concurrency: config.Concurrency,
		Sink:        cmdhelper.NewConsoleSink(),
	})
	if summary.PartialFailure() {
		cmdhelper.PrintFailureSummary(summary.Failures)
	}
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return cmdhelper.ExitInterrupt
	case err != nil:
		return cmdhelper.Fatalf("%v", err)
	case summary.PartialFailure():
		return cmdhelper.ExitPartialFailure
	}
	return cmdhelper.ExitSuccess
}

func sessionExitCode(ctx context.Context, err error) int {
	if errors.Is(ctx.Err(), context.Canceled) {
		return cmdhelper.ExitInterrupt
	}
	if status.KindOf(err) == status.KindConfig {
		return cmdhelper.Usagef("%v", err)
	}
	return cmdhelper.Fatalf("%v", err)
}

func readManifestFile(path string) (manifest.AssetbundleInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return manifest.AssetbundleInfo{}, err
	}
	defer file.Close()
	return manifest.Parse(file)
}
