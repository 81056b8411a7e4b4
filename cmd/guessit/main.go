// Command guessit is the terminal front end of the game: play rounds and buy
// coins through the payment proxy.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sh := newShell(os.Stdin, os.Stdout)

	err := newRootCmd(sh).ExecuteContext(ctx)
	err = errors.Join(err, sh.close())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		//nolint:gocritic
		os.Exit(1)
	}
}
