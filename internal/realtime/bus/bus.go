package bus

import (
	"context"
	"strings"
	"sync"

	"github.com/nexston/bekola-backend/internal/platform/envutil"
	"github.com/nexston/bekola-backend/internal/platform/logger"
	"github.com/nexston/bekola-backend/internal/realtime"
)

type Bus interface {
	Publish(ctx context.Context, ev realtime.Event) error
	StartForwarder(ctx context.Context, onEvent func(ev realtime.Event)) error
	Close() error
}

type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

func ConfigFromEnv() Config {
	return Config{
		Addr:     strings.TrimSpace(envutil.String("REDIS_ADDR", "")),
		Password: envutil.String("REDIS_PASSWORD", ""),
		DB:       envutil.Int("REDIS_DB", 0),
		Channel:  strings.TrimSpace(envutil.String("REDIS_CHANNEL", "bekola-events")),
	}
}

// New returns the Redis bus when an address is configured, and a no-op bus
// otherwise.
func New(ctx context.Context, log *logger.Logger, cfg Config) (Bus, error) {
	if cfg.Addr == "" {
		return Noop{}, nil
	}
	return NewRedisBus(ctx, log, cfg)
}

type Noop struct{}

func (Noop) Publish(context.Context, realtime.Event) error { return nil }
func (Noop) StartForwarder(context.Context, func(ev realtime.Event)) error { return nil }
func (Noop) Close() error { return nil }

// Memory delivers events synchronously to in-process forwarders.
type Memory struct {
	mu       sync.Mutex
	handlers []func(realtime.Event)
	events   []realtime.Event
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Publish(ctx context.Context, ev realtime.Event) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	handlers := append([]func(realtime.Event){}, m.handlers...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
	return nil
}

func (m *Memory) StartForwarder(ctx context.Context, onEvent func(ev realtime.Event)) error {
	m.mu.Lock()
	m.handlers = append(m.handlers, onEvent)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// Events returns everything published so far.
func (m *Memory) Events() []realtime.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]realtime.Event(nil), m.events...)
}
