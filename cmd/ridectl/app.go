package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/apiclient"
	"github.com/rideline/ridectl/internal/application"
	"github.com/rideline/ridectl/internal/cache"
	"github.com/rideline/ridectl/internal/common/database"
	"github.com/rideline/ridectl/internal/common/logger"
	"github.com/rideline/ridectl/internal/config"
	"github.com/rideline/ridectl/internal/domain/credential"
	"github.com/rideline/ridectl/internal/repository"
	"github.com/rideline/ridectl/internal/securestore"
)

// app holds everything a command needs, built once per invocation.
type app struct {
	cfg   *config.ClientConfig
	log   *zap.Logger
	store credential.Store
	api   *apiclient.Client
	cache cache.Cache

	auth       *application.AuthService
	rides      *application.RideService
	drivers    *application.DriverService
	directions *application.DirectionsService
	places     *application.PlacesService

	repo    *repository.GormTripRepository
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.ClientConfig) (*app, error) {
	log, err := logger.NewNamed(cfg.AppEnv, "ridectl")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	secret, err := credentialSecret(cfg)
	if err != nil {
		return nil, err
	}
	store, err := securestore.NewFileStore(cfg.CredentialPath, secret, log.Named("credentials"))
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, store: store}
	a.closers = append(a.closers, func() error { _ = log.Sync(); return nil })

	a.api = apiclient.New(cfg.APIBaseURL, &http.Client{Timeout: cfg.HTTPTimeout}, store, log.Named("api"))

	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisAddr, "ridectl:")
		if err != nil {
			log.Warn("redis unavailable, using in-memory cache", zap.Error(err))
			a.cache = cache.NewMemoryCache(512)
		} else {
			a.cache = rc
			a.closers = append(a.closers, rc.Close)
		}
	} else {
		a.cache = cache.NewMemoryCache(512)
	}

	a.auth = application.NewAuthService(a.api, log.Named("auth"))
	a.rides = application.NewRideService(a.api, log.Named("rides"))
	a.drivers = application.NewDriverService(a.api, a.rides, log.Named("driver"))
	a.directions = application.NewDirectionsService(a.api, a.cache, cfg.CacheTTL, log.Named("directions"))
	a.places = application.NewPlacesService(a.api, a.cache, cfg.CacheTTL, log.Named("places"))
	return a, nil
}

// tripRepository opens the local state database on first use.
func (a *app) tripRepository() (*repository.GormTripRepository, error) {
	if a.repo != nil {
		return a.repo, nil
	}
	db, err := database.Connect(a.cfg.DB, a.log.Named("db"), repository.Models()...)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return database.Close(db) })
	a.repo = repository.NewGormTripRepository(db)
	return a.repo, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Debug("close failed", zap.Error(err))
		}
	}
}

// credentialSecret returns the configured secret, or a random per-machine
// key kept next to the credential file.
func credentialSecret(cfg *config.ClientConfig) ([]byte, error) {
	if cfg.CredentialSecret != "" {
		return []byte(cfg.CredentialSecret), nil
	}
	keyPath := cfg.CredentialPath + ".key"
	raw, err := os.ReadFile(keyPath)
	if err == nil {
		key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil || len(key) < 32 {
			return nil, fmt.Errorf("credential key file %s is corrupt", keyPath)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read credential key: %w", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate credential key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write credential key: %w", err)
	}
	return key, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 30 * time.Second
	}
	return context.WithTimeout(ctx, d)
}
