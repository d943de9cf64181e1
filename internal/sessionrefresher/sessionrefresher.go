// Package sessionrefresher periodically asks the identity service to
// re-validate the current session, so that expiry or revocation on the
// service side reaches the session holder as an ordinary change
// notification.
package sessionrefresher

import (
	"context"
	"time"

	"github.com/patric-chuzhbe/sessionauth/internal/logger"
)

type refresher interface {
	Refresh(ctx context.Context) error
}

type SessionRefresher struct {
	source       refresher
	interval     time.Duration
	errorChannel chan error
}

func New(source refresher, interval time.Duration, errorsCapacity int) *SessionRefresher {
	return &SessionRefresher{
		source:       source,
		interval:     interval,
		errorChannel: make(chan error, errorsCapacity),
	}
}

// ListenErrors passes every refresh error to callback until Run returns.
func (r *SessionRefresher) ListenErrors(callback func(error)) {
	go func() {
		for err := range r.errorChannel {
			callback(err)
		}
	}()
}

// Run refreshes once per interval until ctx is done. It blocks.
func (r *SessionRefresher) Run(ctx context.Context) {
	defer close(r.errorChannel)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.source.Refresh(ctx); err != nil {
				r.report(err)
				continue
			}
			logger.Log.Debugln("session refreshed")
		}
	}
}

func (r *SessionRefresher) report(err error) {
	select {
	case r.errorChannel <- err:
	default:
		logger.Log.Debugln("session refresher error dropped: ", err)
	}
}
