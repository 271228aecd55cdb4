package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/twintail/twintail/cmd/internal/cmdhelper"
	"github.com/twintail/twintail/cmd/root"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := root.Run(ctx, os.Args)
	if ctx.Err() != nil {
		code = cmdhelper.ExitInterrupt
	}
	os.Exit(code)
}
