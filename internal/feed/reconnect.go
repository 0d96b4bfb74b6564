package feed

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/appointment-desk/backend/internal/scheduling"
	"github.com/appointment-desk/backend/internal/session"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

var errStreamClosed = errors.New("stream closed by server")

// ReconnectPolicy bounds how a transport re-opens a dropped stream.
// MaxAttempts counts consecutive failures; zero means a dropped stream
// stays down.
type ReconnectPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
}

func (p ReconnectPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	b.Reset()
	return b
}

// connectFunc opens one stream session and blocks until it ends. opened is
// true once h.OnOpen has been called.
type connectFunc func(ctx context.Context, h Handler) (opened bool, err error)

// runStream drives connect under policy. Every failed or ended session is
// reported to h.OnError. It returns nil when ctx is done and a
// *TransportDisconnected when the policy gives up.
func runStream(ctx context.Context, policy ReconnectPolicy, logger *zap.Logger, h Handler, connect connectFunc) error {
	b := policy.backOff()
	failures := 0
	for {
		opened, err := connect(ctx, h)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errStreamClosed
		}
		if opened {
			failures = 0
			b.Reset()
		}
		h.OnError(&TransportDisconnected{Err: err})

		if failures >= policy.MaxAttempts {
			return &TransportDisconnected{Err: err}
		}
		failures++
		wait := b.NextBackOff()
		logger.Info("reconnecting push stream",
			zap.Int("attempt", failures),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// cookieHeader renders the session cookies the stream endpoint expects.
func cookieHeader(sessions session.Provider) string {
	if sessions == nil {
		return ""
	}
	cur := sessions.Current()
	var parts []string
	if cur.SessionID != "" {
		parts = append(parts, (&http.Cookie{Name: scheduling.SessionCookie, Value: cur.SessionID}).String())
	}
	if cur.CSRFToken != "" {
		parts = append(parts, (&http.Cookie{Name: scheduling.CSRFCookie, Value: cur.CSRFToken}).String())
	}
	return strings.Join(parts, "; ")
}
