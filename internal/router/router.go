// Package router exposes the session and the auth facade over HTTP.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/patric-chuzhbe/sessionauth/internal/auth"
	"github.com/patric-chuzhbe/sessionauth/internal/guard"
	"github.com/patric-chuzhbe/sessionauth/internal/gzippedhttp"
	"github.com/patric-chuzhbe/sessionauth/internal/identity"
	"github.com/patric-chuzhbe/sessionauth/internal/identityservice"
	"github.com/patric-chuzhbe/sessionauth/internal/logger"
	"github.com/patric-chuzhbe/sessionauth/internal/models"
	"github.com/patric-chuzhbe/sessionauth/internal/session"
)

type authFacade interface {
	Register(ctx context.Context, identifier, secret string) (*identity.Identity, error)
	Authenticate(ctx context.Context, identifier, secret string) (*identity.Identity, error)
	Deauthenticate(ctx context.Context) error
}

type sessionReader interface {
	Current() session.Snapshot
}

type protector interface {
	Protect(h http.Handler) http.Handler
}

type restrictor interface {
	Restrict(h http.Handler) http.Handler
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Router struct {
	auth     authFacade
	sessions sessionReader
	db       pinger
	validate *validator.Validate
}

// New builds the HTTP handler. All routes share the middleware stack below;
// /api/account additionally requires a session.
func New(
	authFacade authFacade,
	sessions sessionReader,
	sessionGuard protector,
	access restrictor,
	db pinger,
) *chi.Mux {
	r := &Router{
		auth:     authFacade,
		sessions: sessions,
		db:       db,
		validate: validator.New(),
	}

	router := chi.NewRouter()
	router.Use(logger.WithLoggingHTTPMiddleware)
	router.Use(access.Restrict)
	router.Use(gzippedhttp.Middleware)

	router.Get(`/`, r.GetRoot)
	router.Get(`/ping`, r.GetPing)
	router.Route(`/api`, func(api chi.Router) {
		api.Post(`/signup`, r.PostSignup)
		api.Post(`/login`, r.PostLogin)
		api.Post(`/logout`, r.PostLogout)
		api.Get(`/session`, r.GetSession)
		api.Method(http.MethodGet, `/account`, sessionGuard.Protect(http.HandlerFunc(r.GetAccount)))
	})

	return router
}

func (r *Router) GetRoot(response http.ResponseWriter, request *http.Request) {
	response.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = response.Write([]byte("sessionauth"))
}

func (r *Router) GetPing(response http.ResponseWriter, request *http.Request) {
	if err := r.db.Ping(request.Context()); err != nil {
		logger.Log.Debugln("Error calling the `r.db.Ping()`: ", err)
		response.WriteHeader(http.StatusInternalServerError)
		return
	}
	response.WriteHeader(http.StatusOK)
}

func (r *Router) PostSignup(response http.ResponseWriter, request *http.Request) {
	credentials, ok := r.decodeCredentials(response, request)
	if !ok {
		return
	}

	created, err := r.auth.Register(request.Context(), credentials.Email, credentials.Password)
	if err != nil {
		logger.Log.Debugln("Error calling the `r.auth.Register()`: ", err)
		writeError(response, signupStatus(err), err)
		return
	}

	writeJSON(response, http.StatusCreated, toIdentityResponse(created))
}

func (r *Router) PostLogin(response http.ResponseWriter, request *http.Request) {
	credentials, ok := r.decodeCredentials(response, request)
	if !ok {
		return
	}

	signedIn, err := r.auth.Authenticate(request.Context(), credentials.Email, credentials.Password)
	if err != nil {
		logger.Log.Debugln("Error calling the `r.auth.Authenticate()`: ", err)
		status := http.StatusUnauthorized
		if errors.Is(err, identityservice.ErrUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeError(response, status, err)
		return
	}

	writeJSON(response, http.StatusOK, toIdentityResponse(signedIn))
}

func (r *Router) PostLogout(response http.ResponseWriter, request *http.Request) {
	if err := r.auth.Deauthenticate(request.Context()); err != nil {
		logger.Log.Debugln("Error calling the `r.auth.Deauthenticate()`: ", err)
		status := http.StatusInternalServerError
		if errors.Is(err, identityservice.ErrUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeError(response, status, err)
		return
	}

	response.WriteHeader(http.StatusNoContent)
}

func (r *Router) GetSession(response http.ResponseWriter, request *http.Request) {
	current := r.sessions.Current()

	body := models.SessionResponse{
		Status:  current.Status.String(),
		Version: current.Version,
	}
	if current.Present() {
		body.Identity = toIdentityResponse(current.Identity)
	}

	writeJSON(response, http.StatusOK, body)
}

// GetAccount is served behind the guard and answers with the identity the
// guard admitted, even if the session changed since.
func (r *Router) GetAccount(response http.ResponseWriter, request *http.Request) {
	admitted, ok := guard.SnapshotFromContext(request.Context())
	if !ok || !admitted.Present() {
		http.Redirect(response, request, guard.RootPath, http.StatusTemporaryRedirect)
		return
	}

	writeJSON(response, http.StatusOK, toIdentityResponse(admitted.Identity))
}

func (r *Router) decodeCredentials(response http.ResponseWriter, request *http.Request) (models.CredentialsRequest, bool) {
	var credentials models.CredentialsRequest

	if err := json.NewDecoder(request.Body).Decode(&credentials); err != nil {
		writeError(response, http.StatusBadRequest, err)
		return credentials, false
	}

	if err := r.validate.Struct(credentials); err != nil {
		writeError(response, http.StatusBadRequest, err)
		return credentials, false
	}

	return credentials, true
}

func signupStatus(err error) int {
	switch {
	case errors.Is(err, identityservice.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, identityservice.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, auth.ErrAccountCreation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func toIdentityResponse(id *identity.Identity) *models.IdentityResponse {
	if id == nil {
		return nil
	}

	return &models.IdentityResponse{
		ID:    id.ID,
		Email: id.Email,
	}
}

func writeJSON(response http.ResponseWriter, status int, body any) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(status)
	if err := json.NewEncoder(response).Encode(body); err != nil {
		logger.Log.Debugln("Error calling the `json.NewEncoder().Encode()`: ", err)
	}
}

func writeError(response http.ResponseWriter, status int, err error) {
	writeJSON(response, status, models.ErrorResponse{Error: err.Error()})
}
