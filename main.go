// evald serves interactive JavaScript evaluation sessions over
// WebSocket, and is also their command-line client.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"evald/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		var exit *cmd.ExitError
		if errors.As(err, &exit) {
			cancel()
			os.Exit(exit.Code)
		}
		fmt.Fprintf(os.Stderr, "evald: %v\n", err)
		os.Exit(1)
	}
}
