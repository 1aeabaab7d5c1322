package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/feynmanlabs/feynman/internal/eventlog"
	"github.com/feynmanlabs/feynman/internal/httpapi"
	"github.com/feynmanlabs/feynman/internal/jobs"
	"github.com/feynmanlabs/feynman/internal/notifications"
	"github.com/feynmanlabs/feynman/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
)

type App struct {
	cfg      Config
	logger   *log.Logger
	db       *pgxpool.Pool
	store    *store.Store
	eventLog *eventlog.Logger
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := store.New(db)
	el := eventlog.New(db)

	// Migrations are applied externally by the CI deploy job (docker exec psql).
	// No automatic migration runner at startup.

	return &App{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		store:    s,
		eventLog: el,
	}, nil
}

func (a *App) Router(sessions *httpapi.SessionRegistry) http.Handler {
	routerCfg := httpapi.RouterConfig{
		PublicBaseURL:     a.cfg.PublicBaseURL,
		OpenAIAPIKey:      a.cfg.OpenAIAPIKey,
		OpenAIModel:       a.cfg.OpenAIModel,
		MatchThreshold:    a.cfg.MatchThreshold,
		AnswerTimeout:     a.cfg.AnswerTimeout,
		SpeechTimeout:     a.cfg.SpeechTimeout,
		JWTSecret:         a.cfg.JWTSecret,
		JWTExpiry:         a.cfg.JWTExpiry,
		DiscordWebhookURL: a.cfg.DiscordWebhookURL,
		APNsKeyPath:       a.cfg.APNsKeyPath,
		APNsKeyID:         a.cfg.APNsKeyID,
		APNsTeamID:        a.cfg.APNsTeamID,
		APNsBundleID:      a.cfg.APNsBundleID,
		APNsProduction:    a.cfg.APNsProduction,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.store, a.eventLog, sessions)
}

// SessionReaper builds the background job that abandons idle sessions.
func (a *App) SessionReaper() *jobs.SessionReaperJob {
	apnsClient, err := notifications.NewAPNsClient(notifications.APNsConfig{
		KeyPath:    a.cfg.APNsKeyPath,
		KeyID:      a.cfg.APNsKeyID,
		TeamID:     a.cfg.APNsTeamID,
		BundleID:   a.cfg.APNsBundleID,
		Production: a.cfg.APNsProduction,
	}, a.logger)
	if err != nil {
		a.logger.Printf("Warning: APNs client initialization failed: %v", err)
	}
	return jobs.NewSessionReaperJob(a.store, a.eventLog, apnsClient, a.logger,
		a.cfg.ReaperInterval, a.cfg.SessionIdleTimeout)
}

func (a *App) Close() error {
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
