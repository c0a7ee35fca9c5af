package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/markis/seqthink/internal/args"
)

// main function to parse arguments and answer the question.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], args.PipedStdin(), os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
