package main

import (
	"context"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rc, _ := Cli(ctx, os.Args[1:], NewCliConfig())
	stop()
	os.Exit(rc)
}
