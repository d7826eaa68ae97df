package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/canopy-network/relayx/app/relay"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app := relay.Initialize(ctx)

	app.Start(ctx)
}
