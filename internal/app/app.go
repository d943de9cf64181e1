// Package app wires the identity service, the document store, the session
// holder and the HTTP surface together, and runs them until shutdown.
package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/patric-chuzhbe/sessionauth/internal/auth"
	"github.com/patric-chuzhbe/sessionauth/internal/config"
	"github.com/patric-chuzhbe/sessionauth/internal/db/jsondb"
	"github.com/patric-chuzhbe/sessionauth/internal/db/memorystorage"
	"github.com/patric-chuzhbe/sessionauth/internal/db/postgresdb"
	"github.com/patric-chuzhbe/sessionauth/internal/db/storage"
	"github.com/patric-chuzhbe/sessionauth/internal/guard"
	"github.com/patric-chuzhbe/sessionauth/internal/identity"
	"github.com/patric-chuzhbe/sessionauth/internal/identityservice/kratosidp"
	"github.com/patric-chuzhbe/sessionauth/internal/identityservice/memoryidp"
	"github.com/patric-chuzhbe/sessionauth/internal/ipchecker"
	"github.com/patric-chuzhbe/sessionauth/internal/logger"
	"github.com/patric-chuzhbe/sessionauth/internal/models"
	"github.com/patric-chuzhbe/sessionauth/internal/router"
	"github.com/patric-chuzhbe/sessionauth/internal/session"
	"github.com/patric-chuzhbe/sessionauth/internal/sessionrefresher"
)

const (
	refresherErrorsCapacity = 16
	shutdownTimeout         = 10 * time.Second
	signingKeyLength        = 32
)

type identityProvider interface {
	CreateAccount(ctx context.Context, identifier, secret string) (*identity.Identity, error)
	SignIn(ctx context.Context, identifier, secret string) (*identity.Identity, error)
	SignOut(ctx context.Context) error
	DeleteAccount(ctx context.Context, identityID string) error
	Refresh(ctx context.Context) error
	OnChange(callback func(*identity.Identity)) (cancel func())
}

// App owns every long-lived component of the process.
type App struct {
	cfg         *config.Config
	db          storage.DocumentStore
	identities  identityProvider
	session     *session.Holder
	refresher   *sessionrefresher.SessionRefresher
	httpHandler http.Handler
}

// New loads the configuration and builds the components it selects.
func New() (*App, error) {
	var err error
	app := &App{}

	app.cfg, err = config.New()
	if err != nil {
		return nil, err
	}

	err = logger.Init(app.cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	app.identities, err = getIdentityProvider(app.cfg)
	if err != nil {
		return nil, err
	}

	app.db, err = getStorageByType(app.cfg)
	if err != nil {
		return nil, err
	}

	app.session = session.New(app.identities)
	app.session.Subscribe(func(s session.Snapshot) {
		logger.Log.Infow("session changed", "status", s.Status.String(), "version", s.Version)
	})

	checker, err := ipchecker.New(app.cfg.TrustedSubnet, ipchecker.WithProxyHeaders(app.cfg.TrustProxyHeaders))
	if err != nil {
		return nil, err
	}

	app.refresher = sessionrefresher.New(app.identities, app.cfg.SessionRefreshInterval, refresherErrorsCapacity)
	app.refresher.ListenErrors(func(err error) {
		logger.Log.Debugln("Error passed from the `app.refresher.ListenErrors()`:", zap.Error(err))
	})

	app.httpHandler = router.New(
		auth.New(
			app.identities,
			app.db,
			auth.WithProvisioningMode(provisioningMode(app.cfg.ProvisioningMode)),
			auth.WithCompensation(app.cfg.CompensateRegistration),
		),
		app.session,
		guard.New(app.session),
		checker,
		app.db,
	)

	return app, nil
}

// Run serves HTTP and refreshes the session until SIGINT or SIGTERM, then
// shuts everything down.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:    a.cfg.RunAddr,
		Handler: a.httpHandler,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Log.Infoln("server running", "RunAddr", a.cfg.RunAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		a.refresher.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Log.Infoln("Received shutdown signal. Closing the session and the storage...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		return nil
	})

	err := group.Wait()

	a.session.Close()
	if closeErr := a.db.Close(); closeErr != nil {
		err = multierr.Append(err, closeErr)
	}

	return err
}

// Close finalizes resources used by App such as logging.
func (a *App) Close() {
	if err := logger.Sync(); err != nil {
		fmt.Println("Logger sync error:", err)
	}
}

func provisioningMode(name string) auth.ProvisioningMode {
	if name == models.ProvisioningConcurrent {
		return auth.ProvisioningConcurrent
	}

	return auth.ProvisioningSequenced
}

func getIdentityProvider(cfg *config.Config) (identityProvider, error) {
	switch cfg.IdentityProvider {
	case models.IdentityProviderKratos:
		return kratosidp.New(cfg.KratosPublicURL, cfg.KratosAdminURL, cfg.KratosTimeout), nil

	case models.IdentityProviderMemory:
		signingKey, err := getSigningKey(cfg.TokenSigningKey)
		if err != nil {
			return nil, err
		}
		return memoryidp.New(signingKey, cfg.TokenTTL), nil
	}

	return nil, fmt.Errorf("unknown identity provider %q", cfg.IdentityProvider)
}

func getSigningKey(encoded string) ([]byte, error) {
	if encoded != "" {
		key, err := base64.URLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("in internal/app/app.go/getSigningKey(): error while `base64.URLEncoding.DecodeString()` calling: %w", err)
		}
		return key, nil
	}

	key := make([]byte, signingKeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("in internal/app/app.go/getSigningKey(): error while `rand.Read()` calling: %w", err)
	}

	return key, nil
}

func getAvailableStorageType(cfg *config.Config) int {
	if cfg.DatabaseDSN != "" {
		return models.StorageTypePostgresql
	}

	if cfg.DBFileName != "" {
		return models.StorageTypeFile
	}

	return models.StorageTypeMemory
}

func getStorageByType(cfg *config.Config) (storage.DocumentStore, error) {
	switch getAvailableStorageType(cfg) {
	case models.StorageTypeUnknown:
		return nil, errors.New("unknown storage type")

	case models.StorageTypePostgresql:
		return postgresdb.New(
			context.Background(),
			cfg.DatabaseDSN,
			cfg.DBConnectionTimeout,
			cfg.MigrationsDir,
		)

	case models.StorageTypeFile:
		return jsondb.New(cfg.DBFileName)
	}

	return memorystorage.New()
}
