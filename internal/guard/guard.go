// Package guard protects views that need a signed-in identity. Visitors
// without a session are redirected to the root path instead.
package guard

import (
	"context"
	"net/http"

	"github.com/patric-chuzhbe/sessionauth/internal/session"
)

// RootPath is where visitors without a session are sent.
const RootPath = "/"

type contextKey string

// SnapshotKey is the request context key under which Protect stores the
// snapshot it admitted the request with.
const SnapshotKey contextKey = "sessionSnapshot"

type sessionReader interface {
	Current() session.Snapshot
}

// Renderable reports whether a protected view may be rendered for s.
func Renderable(s session.Snapshot) bool {
	return s.Present()
}

type Guard struct {
	sessions   sessionReader
	redirectTo string
}

type Option func(*Guard)

func WithRedirectPath(path string) Option {
	return func(g *Guard) {
		g.redirectTo = path
	}
}

func New(sessions sessionReader, opts ...Option) *Guard {
	g := &Guard{
		sessions:   sessions,
		redirectTo: RootPath,
	}
	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Protect serves h only when a session is present and redirects otherwise.
// h finds the admitted snapshot with SnapshotFromContext.
func (g *Guard) Protect(h http.Handler) http.Handler {
	return http.HandlerFunc(func(response http.ResponseWriter, request *http.Request) {
		current := g.sessions.Current()
		if !Renderable(current) {
			http.Redirect(response, request, g.redirectTo, http.StatusTemporaryRedirect)
			return
		}

		h.ServeHTTP(response, request.WithContext(context.WithValue(request.Context(), SnapshotKey, current)))
	})
}

// SnapshotFromContext returns the snapshot Protect admitted the request with.
func SnapshotFromContext(ctx context.Context) (session.Snapshot, bool) {
	snapshot, ok := ctx.Value(SnapshotKey).(session.Snapshot)
	return snapshot, ok
}
