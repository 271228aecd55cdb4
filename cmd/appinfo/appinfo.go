// Package appinfo implements "twintail app-info": printing the app
// version and app-hash of an APK so they can seed fetch commands.
package appinfo

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/twintail/twintail/apk"
	"github.com/twintail/twintail/cmd/internal/cmdhelper"
)

func Run(ctx context.Context, args []string) int {
	flagSet := flag.NewFlagSet("app-info", flag.ContinueOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Prints the app version and app-hash found in an APK.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: twintail app-info [ARGS...] APK_PATH\n")
		flagSet.PrintDefaults()
	}
	config, err := cmdhelper.InjectGlobalFlagsAndConfigure(args, flagSet, cmdhelper.FlagPresetSession)
	if err != nil {
		return cmdhelper.Usagef("%v", err)
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return cmdhelper.ExitUsage
	}

	credentials, err := apk.ReadCredentials(flagSet.Arg(0), config.Region())
	if err != nil {
		return cmdhelper.Fatalf("%v", err)
	}
	fmt.Fprintf(os.Stdout, "version: %s\nhash: %s\n", credentials.Version, credentials.Hash)
	return cmdhelper.ExitSuccess
}
