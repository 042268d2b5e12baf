package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nexston/bekola-backend/internal/app"
)

type commandContext struct {
	newApp func(ctx context.Context) (*app.App, error)
}

func newCommandContext() *commandContext {
	return &commandContext{newApp: app.New}
}

// withApp builds the application, runs fn with a context canceled on SIGINT
// or SIGTERM, and closes everything afterwards.
func (c *commandContext) withApp(parent context.Context, fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := c.newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
