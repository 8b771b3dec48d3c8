// Package notify pushes rendered messages out through the transport,
// smoothing bursts below the Telegram send limits.
package notify

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	logx "gtbot/pkg/logx"
)

// Sender is the transport-level send primitive.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Config tunes throughput and per-send patience.
type Config struct {
	RatePerSec  float64
	Burst       int
	SendTimeout time.Duration
}

func (c *Config) normalize() {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 25 // Telegram caps bots around 30 msg/s
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
}

// Service is the single delivery path for every outbound notification:
// promotions, cancellations, reminders, and digests all funnel through
// the same limiter.
type Service struct {
	sender  Sender
	limiter *rate.Limiter
	timeout time.Duration
	log     logx.Logger
}

func New(sender Sender, cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg.normalize()
	return &Service{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		timeout: cfg.SendTimeout,
		log:     log,
	}
}

// Deliver blocks on the limiter, then sends with a per-message timeout.
// Callers own retry policy; Deliver reports a single attempt.
func (s *Service) Deliver(ctx context.Context, chatID int64, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.sender.SendMessage(sctx, chatID, text); err != nil {
		return err
	}
	s.log.Debug("message delivered", logx.Int64("chat_id", chatID), logx.Int("len", len(text)))
	return nil
}
