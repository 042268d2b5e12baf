package mailer

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/nexston/bekola-backend/internal/platform/ctxutil"
	"github.com/nexston/bekola-backend/internal/platform/httpx"
	"github.com/nexston/bekola-backend/internal/platform/logger"
)

type SendGrid struct {
	log       *logger.Logger
	cfg       Config
	retryBase time.Duration
}

func NewSendGrid(log *logger.Logger, cfg Config) (*SendGrid, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing SENDGRID_API_KEY")
	}
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, fmt.Errorf("missing SENDGRID_FROM_EMAIL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &SendGrid{log: log.With("client", "SendGridMailer"), cfg: cfg, retryBase: time.Second}, nil
}

// HTTPError is a non-2xx answer from the SendGrid API.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 2000 {
		body = body[:2000] + "..."
	}
	return fmt.Sprintf("sendgrid http %d: %s", e.StatusCode, body)
}

func (e *HTTPError) HTTPStatusCode() int { return e.StatusCode }

func (s *SendGrid) build(msg Message) (*mail.SGMailV3, error) {
	if strings.TrimSpace(msg.To) == "" {
		return nil, fmt.Errorf("sendgrid: recipient required")
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return nil, fmt.Errorf("sendgrid: subject required")
	}
	from := mail.NewEmail(s.cfg.FromName, s.cfg.FromEmail)
	to := mail.NewEmail(msg.ToName, strings.TrimSpace(msg.To))
	m := mail.NewV3MailInit(from, msg.Subject, to, mail.NewContent("text/plain", msg.Body))
	if a := msg.Attachment; a != nil {
		if strings.TrimSpace(a.Filename) == "" || len(a.Data) == 0 {
			return nil, fmt.Errorf("sendgrid: attachment requires filename and content")
		}
		att := mail.NewAttachment()
		att.SetContent(base64.StdEncoding.EncodeToString(a.Data))
		att.SetType(a.ContentType)
		att.SetFilename(a.Filename)
		att.SetDisposition("attachment")
		m.AddAttachment(att)
	}
	return m, nil
}

func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	ctx = ctxutil.Default(ctx)
	m, err := s.build(msg)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		err := s.sendOnce(ctx, m)
		if err == nil {
			return nil
		}
		if !httpx.IsRetryableError(err) || attempt >= s.cfg.MaxRetries {
			return err
		}
		sleepFor := httpx.JitterSleep(httpx.Backoff(s.retryBase, 10*time.Second, attempt+1))
		s.log.Warn("SendGrid request retrying",
			"attempt", attempt+1,
			"max_retries", s.cfg.MaxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
	}
}

func (s *SendGrid) sendOnce(ctx context.Context, m *mail.SGMailV3) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	// A client per call: SendWithContext mutates the embedded request body.
	client := sendgrid.NewSendClient(s.cfg.APIKey)
	if s.cfg.BaseURL != "" {
		client.BaseURL = s.cfg.BaseURL + "/v3/mail/send"
	}
	resp, err := client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: resp.Body}
	}
	return nil
}
