// Package decrypt implements "twintail decrypt": converting the game's
// on-disk formats back into plaintext.
package decrypt

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/twintail/twintail/api"
	"github.com/twintail/twintail/cmd/internal/cmdhelper"
	"github.com/twintail/twintail/codec/bundle"
	"github.com/twintail/twintail/codec/suite"
	"github.com/twintail/twintail/service/status"
)

const usage = `Usage: twintail decrypt [TARGET] [ARGS...]

Targets:
  ab     Decrypt a game-format assetbundle (or a tree of them)
  suite  Decrypt suitemaster files back to JSON`

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

	flagSet := flag.NewFlagSet("decrypt ab", flag.ContinueOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Decrypts game-format assetbundles into plain Unity bundles.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: twintail decrypt ab [ARGS...] IN [OUT]\n")
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
		decoded, err := bundle.Decode(data)
		if err != nil {
			return nil, status.WithKind(status.KindCodec, err)
		}
		return decoded, nil
	})
	return cmdhelper.TransformExitCode(written, failures, err)
}

func runSuite(ctx context.Context, args []string) int {
	var watch bool

	flagSet := flag.NewFlagSet("decrypt suite", flag.ContinueOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Decrypts suitemaster files back to JSON.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: twintail decrypt suite [ARGS...] IN [OUT]\n")
		flagSet.PrintDefaults()
	}
	flagSet.BoolVar(&watch, "watch", false, "Keep watching IN and re-decrypt on changes (requires OUT)")
	config, err := cmdhelper.InjectGlobalFlagsAndConfigure(args, flagSet,
		cmdhelper.FlagPresetSession|cmdhelper.FlagPresetPipeline)
	if err != nil {
		return cmdhelper.Usagef("%v", err)
	}
	in, out, code := cmdhelper.InOutArgs(flagSet)
	if code >= 0 {
		return code
	}
	return cmdhelper.RunSuiteTransform(ctx, in, out, watch, config, decryptSuite)
}

func decryptSuite(ctx context.Context, in, out string, config api.GlobalConfig) (suite.DirResult, error) {
	info, err := os.Stat(in)
	if err != nil {
		return suite.DirResult{}, err
	}
	if info.IsDir() {
		if out == "" {
			out = in
		}
		return suite.DecryptDir(ctx, in, out, config.Region(), cmdhelper.SuiteConcurrency(config))
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return suite.DirResult{}, err
	}
	key, jsonBytes, err := suite.Decrypt(data, config.Region())
	if err != nil {
		return suite.DirResult{Failures: []suite.Failure{{Name: in, Kind: status.KindOf(err), Err: err}}}, nil
	}
	destination := out
	if destination == "" {
		name := strings.ReplaceAll(key, "/", "_") + ".json"
		destination = filepath.Join(filepath.Dir(in), name)
	}
	if err := renameio.WriteFile(destination, jsonBytes, 0o644); err != nil {
		return suite.DirResult{}, err
	}
	return suite.DirResult{Written: 1}, nil
}
