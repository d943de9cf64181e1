package guard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/patric-chuzhbe/sessionauth/internal/identity"
	"github.com/patric-chuzhbe/sessionauth/internal/session"
)

type staticSession session.Snapshot

func (s staticSession) Current() session.Snapshot {
	return session.Snapshot(s)
}

var protectedContent = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Protected", "yes")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("saved items"))
})

func TestRenderable(t *testing.T) {
	assert.False(t, Renderable(session.Snapshot{}))
	assert.False(t, Renderable(session.Snapshot{Status: session.StatusSignedOut}))
	assert.True(t, Renderable(session.Snapshot{
		Status:   session.StatusSignedIn,
		Identity: &identity.Identity{ID: "1"},
	}))
}

func TestProtect(t *testing.T) {
	type want struct {
		code      int
		location  string
		body      string
		protected bool
	}
	tests := []struct {
		name     string
		snapshot session.Snapshot
		opts     []Option
		want     want
	}{
		{
			name:     "unknown session redirects",
			snapshot: session.Snapshot{Status: session.StatusUnknown},
			want:     want{code: http.StatusTemporaryRedirect, location: "/"},
		},
		{
			name:     "signed out redirects",
			snapshot: session.Snapshot{Status: session.StatusSignedOut, Version: 3},
			want:     want{code: http.StatusTemporaryRedirect, location: "/"},
		},
		{
			name:     "custom redirect path",
			snapshot: session.Snapshot{Status: session.StatusSignedOut},
			opts:     []Option{WithRedirectPath("/login")},
			want:     want{code: http.StatusTemporaryRedirect, location: "/login"},
		},
		{
			name: "signed in renders content unmodified",
			snapshot: session.Snapshot{
				Status:   session.StatusSignedIn,
				Identity: &identity.Identity{ID: "1", Email: "a@x.com"},
			},
			want: want{code: http.StatusOK, body: "saved items", protected: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := New(staticSession(tt.snapshot), tt.opts...).Protect(protectedContent)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/account", nil))

			assert.Equal(t, tt.want.code, rec.Code)
			assert.Equal(t, tt.want.location, rec.Header().Get("Location"))
			assert.Equal(t, tt.want.protected, rec.Header().Get("X-Protected") == "yes")
			if tt.want.protected {
				assert.Equal(t, tt.want.body, rec.Body.String())
			} else {
				assert.NotContains(t, rec.Body.String(), "saved items")
			}
		})
	}
}

func TestProtectPassesAdmittedSnapshot(t *testing.T) {
	admitted := session.Snapshot{
		Status:   session.StatusSignedIn,
		Identity: &identity.Identity{ID: "1", Email: "a@x.com"},
		Version:  4,
	}

	var got session.Snapshot
	var found bool
	handler := New(staticSession(admitted)).Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, found = SnapshotFromContext(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/account", nil))

	assert.True(t, found)
	assert.Equal(t, admitted, got)

	_, found = SnapshotFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.False(t, found)
}
