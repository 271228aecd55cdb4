package root

import (
	"context"
	"fmt"
	"os"

	"github.com/twintail/twintail/api"
	"github.com/twintail/twintail/cmd/appinfo"
	"github.com/twintail/twintail/cmd/decrypt"
	"github.com/twintail/twintail/cmd/encrypt"
	"github.com/twintail/twintail/cmd/fetch"
	"github.com/twintail/twintail/cmd/internal/cmdhelper"
	"github.com/twintail/twintail/internal/logging"
)

const usage = `Usage: twintail [COMMAND] [ARGS...]

Commands:
  fetch     Mirror assetbundles, suitemaster data or save data from a region server
  encrypt   Convert plaintext assets into the game's on-disk formats
  decrypt   Convert the game's on-disk formats into plaintext
  app-info  Print the app version and hash found in an APK`

// Run dispatches the top-level command and returns the process exit code.
func Run(ctx context.Context, args []string) int {
	setLogLevel()
	if len(args) < 2 {
		return printUsage()
	}

	command := args[1]
	switch command {
	case "fetch":
		return fetch.Run(ctx, args[2:])
	case "encrypt":
		return encrypt.Run(ctx, args[2:])
	case "decrypt":
		return decrypt.Run(ctx, args[2:])
	case "app-info":
		return appinfo.Run(ctx, args[2:])
	}
	return printUsage()
}

func printUsage() int {
	fmt.Fprintln(os.Stderr, usage)
	return cmdhelper.ExitUsage
}

func setLogLevel() {
	level, ok := os.LookupEnv(api.LogLevelEnv)
	if !ok {
		return
	}
	logging.SetLevel(logging.FromString(level))
}
