// Package encrypt implements "twintail encrypt": converting plaintext
// assets back into the game's on-disk formats.
package encrypt

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/twintail/twintail/api"
	"github.com/twintail/twintail/cmd/internal/cmdhelper"
	"github.com/twintail/twintail/codec/bundle"
	"github.com/twintail/twintail/codec/suite"
	"github.com/twintail/twintail/service/status"
)

const usage = `Usage: twintail encrypt [TARGET] [ARGS...]

Targets:
  ab     Encrypt a Unity bundle (or a tree of them) into the game format
  suite  Encrypt suitemaster JSON files for a region`

func Run(ctx context.Context, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, usage)
		return cmdhelper.ExitUsage
	}
	switch args[0] {
	case "ab":
		return runBundle(ctx, args[1:])
	case "suite":
		return runSuite(ctx, args[1:])
	}
	fmt.Fprintln(os.Stderr, usage)
	return cmdhelper.ExitUsage
}

func runBundle(ctx context.Context, args []string) int {
	var recursive bool

	flagSet := flag.NewFlagSet("encrypt ab", flag.ContinueOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Encrypts assetbundles into the game format.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: twintail encrypt ab [ARGS...] IN [OUT]\n")
		flagSet.PrintDefaults()
	}
	flagSet.BoolVar(&recursive, "recursive", false, "Transform a whole directory tree")
	if _, err := cmdhelper.InjectGlobalFlagsAndConfigure(args, flagSet, cmdhelper.FlagPresetNone); err != nil {
		return cmdhelper.Usagef("%v", err)
	}
	in, out, code := cmdhelper.InOutArgs(flagSet)
	if code >= 0 {
		return code
	}

	written, failures, err := cmdhelper.TransformPath(in, out, recursive, func(data []byte) ([]byte, error) {
		return bundle.Encode(data), nil
	})
	return cmdhelper.TransformExitCode(written, failures, err)
}

func runSuite(ctx context.Context, args []string) int {
	var watch bool

	flagSet := flag.NewFlagSet("encrypt suite", flag.ContinueOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Encrypts suitemaster JSON files for a region.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: twintail encrypt suite [ARGS...] IN [OUT]\n")
		flagSet.PrintDefaults()
	}
	flagSet.BoolVar(&watch, "watch", false, "Keep watching IN and re-encrypt on changes (requires OUT)")
	config, err := cmdhelper.InjectGlobalFlagsAndConfigure(args, flagSet,
		cmdhelper.FlagPresetSession|cmdhelper.FlagPresetPipeline)
	if err != nil {
		return cmdhelper.Usagef("%v", err)
	}
	in, out, code := cmdhelper.InOutArgs(flagSet)
	if code >= 0 {
		return code
	}
	return cmdhelper.RunSuiteTransform(ctx, in, out, watch, config, encryptSuite)
}

// encryptSuite is the per-invocation transform used by both the
// one-shot path and watch mode.
func encryptSuite(ctx context.Context, in, out string, config api.GlobalConfig) (suite.DirResult, error) {
	info, err := os.Stat(in)
	if err != nil {
		return suite.DirResult{}, err
	}
	if info.IsDir() {
		if out == "" {
			out = in
		}
		return suite.EncryptDir(ctx, in, out, config.Region(), cmdhelper.SuiteConcurrency(config))
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return suite.DirResult{}, err
	}
	_, blob, err := suite.Encrypt(data, config.Region())
	if err != nil {
		return suite.DirResult{Failures: []suite.Failure{{Name: in, Kind: status.KindOf(err), Err: err}}}, nil
	}
	destination := out
	if destination == "" {
		destination = filepath.Join(filepath.Dir(in), suite.CiphertextName(blob, 0))
	}
	if err := renameio.WriteFile(destination, blob, 0o644); err != nil {
		return suite.DirResult{}, err
	}
	return suite.DirResult{Written: 1}, nil
}
