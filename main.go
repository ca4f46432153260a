// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"maystream/config"
	"maystream/initapp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := config.NewGlobalConfig()
	a := initapp.NewInitApp(c)
	if err := a.Initialize(); err != nil {
		log.Fatalf("initialization failed: %v", err)
	}
	if err := a.Run(ctx); err != nil {
		log.Fatalf("terminated with error: %v", err)
	}
}
