package app

import (
	"context"
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/nexston/bekola-backend/internal/platform/certrender"
	"github.com/nexston/bekola-backend/internal/platform/localmedia"
	"github.com/nexston/bekola-backend/internal/platform/logger"
	"github.com/nexston/bekola-backend/internal/platform/mailer"
	"github.com/nexston/bekola-backend/internal/platform/objectstore"
	"github.com/nexston/bekola-backend/internal/realtime/bus"
	"github.com/nexston/bekola-backend/internal/temporalx"
)

type Clients struct {
	Store    objectstore.Store
	Mailer   mailer.Mailer
	Renderer certrender.Renderer
	Media    *localmedia.Tools
	Bus      bus.Bus
	Temporal temporalsdkclient.Client
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	store, err := objectstore.New(ctx, log, cfg.Storage)
	if err != nil {
		return c, fmt.Errorf("init object store: %w", err)
	}
	c.Store = store

	if c.Mailer, err = mailer.New(log, cfg.Mailer); err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init mailer: %w", err)
	}
	if c.Renderer, err = certrender.New(log, cfg.Render); err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init certificate renderer: %w", err)
	}
	c.Media = localmedia.New(log, cfg.Media)

	// Redis
	if c.Bus, err = bus.New(ctx, log, cfg.Redis); err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init event bus: %w", err)
	}

	// Temporal; nil unless an address is configured.
	if c.Temporal, err = temporalx.NewClient(ctx, log, cfg.Temporal); err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init temporal client: %w", err)
	}
	return c, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if closer, ok := c.Store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
