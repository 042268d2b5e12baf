package mailer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nexston/bekola-backend/internal/platform/envutil"
	"github.com/nexston/bekola-backend/internal/platform/logger"
)

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Message struct {
	To         string
	ToName     string
	Subject    string
	Body       string
	Attachment *Attachment
}

// Mailer delivers one message. A nil error means the provider accepted it.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type Config struct {
	Mode       string        `yaml:"mode"`
	APIKey     string        `yaml:"-"`
	BaseURL    string        `yaml:"base_url"`
	FromEmail  string        `yaml:"from_email"`
	FromName   string        `yaml:"from_name"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

func ConfigFromEnv() Config {
	return Config{
		Mode:       strings.ToLower(envutil.String("MAILER_MODE", "")),
		APIKey:     envutil.String("SENDGRID_API_KEY", ""),
		BaseURL:    envutil.String("SENDGRID_BASE_URL", ""),
		FromEmail:  envutil.String("SENDGRID_FROM_EMAIL", "no-reply@nexston.example"),
		FromName:   envutil.String("SENDGRID_FROM_NAME", "Walnex / Nexston"),
		Timeout:    envutil.Duration("SENDGRID_TIMEOUT", 30*time.Second),
		MaxRetries: envutil.Int("SENDGRID_MAX_RETRIES", 3),
	}
}

// New picks SendGrid when an API key is configured (or mode=sendgrid) and
// the log mailer otherwise.
func New(log *logger.Logger, cfg Config) (Mailer, error) {
	switch cfg.Mode {
	case "log":
		return NewLogMailer(log), nil
	case "sendgrid":
		return NewSendGrid(log, cfg)
	case "":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewSendGrid(log, cfg)
		}
		return NewLogMailer(log), nil
	default:
		return nil, fmt.Errorf("invalid MAILER_MODE=%q (allowed: sendgrid, log)", cfg.Mode)
	}
}

// LogMailer records messages instead of sending them. Used in development.
type LogMailer struct {
	log *logger.Logger

	mu   sync.Mutex
	sent []Message
}

func NewLogMailer(log *logger.Logger) *LogMailer {
	return &LogMailer{log: log.With("service", "LogMailer")}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("mailer: recipient required")
	}
	attachment := ""
	if msg.Attachment != nil {
		attachment = msg.Attachment.Filename
	}
	m.log.Info("Email (not sent)", "email", msg.To, "subject", msg.Subject, "attachment", attachment)
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return nil
}

func (m *LogMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}
