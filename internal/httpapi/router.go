package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/feynmanlabs/feynman/internal/analyzer"
	"github.com/feynmanlabs/feynman/internal/eventlog"
	"github.com/feynmanlabs/feynman/internal/notifications"
	"github.com/feynmanlabs/feynman/internal/store"
	"github.com/getsentry/sentry-go"
)

type RouterConfig struct {
	PublicBaseURL string

	// Analyzer provider
	OpenAIAPIKey string
	OpenAIModel  string

	// Session engine tuning
	MatchThreshold int           // fuzzy mention threshold (0-100)
	AnswerTimeout  time.Duration // how long to wait for an answer before resuming
	SpeechTimeout  time.Duration // how long to wait for a playback mark

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Notifications
	DiscordWebhookURL string

	// APNs Push Notifications
	APNsKeyPath    string // Path to .p8 key file
	APNsKeyID      string // Key ID from Apple Developer Portal
	APNsTeamID     string // Team ID from Apple Developer Portal
	APNsBundleID   string // App bundle ID
	APNsProduction bool   // Use production environment
}

type Router struct {
	cfg      RouterConfig
	logger   *log.Logger
	store    *store.Store
	eventLog *eventlog.Logger
	analyzer analyzer.Client
	discord  *notifications.Discord
	apns     *notifications.APNsClient
	sessions *SessionRegistry
	mux      *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, s *store.Store, eventLog *eventlog.Logger, sessions *SessionRegistry) http.Handler {
	// Initialize APNs client (may be nil if not configured)
	apnsClient, err := notifications.NewAPNsClient(notifications.APNsConfig{
		KeyPath:    cfg.APNsKeyPath,
		KeyID:      cfg.APNsKeyID,
		TeamID:     cfg.APNsTeamID,
		BundleID:   cfg.APNsBundleID,
		Production: cfg.APNsProduction,
	}, logger)
	if err != nil {
		logger.Printf("Warning: APNs client initialization failed: %v", err)
	}

	r := &Router{
		cfg:      cfg,
		logger:   logger,
		store:    s,
		eventLog: eventLog,
		analyzer: analyzer.NewOpenAIClient(analyzer.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
		}),
		discord:  notifications.NewDiscord(cfg.DiscordWebhookURL, logger),
		apns:     apnsClient,
		sessions: sessions,
		mux:      http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health checks
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)

	// Auth endpoints
	r.mux.HandleFunc("POST /v1/auth/token", r.handleIssueToken)
	r.mux.HandleFunc("POST /v1/auth/logout", r.withAuth(r.handleLogout))

	// Protected API endpoints
	r.mux.HandleFunc("GET /v1/me", r.withAuth(r.handleGetMe))
	r.mux.HandleFunc("POST /v1/sessions", r.withAuth(r.handleCreateSession))
	r.mux.HandleFunc("GET /v1/sessions", r.withAuth(r.handleListSessions))
	r.mux.HandleFunc("GET /v1/sessions/{id}", r.withAuth(r.handleGetSession))
	r.mux.HandleFunc("GET /v1/sessions/{id}/progress", r.withAuth(r.handleGetProgress))
	r.mux.HandleFunc("GET /v1/sessions/{id}/events", r.withAuth(r.handleGetSessionEvents))

	// Live session transport
	r.mux.HandleFunc("GET /v1/sessions/{id}/ws", r.withAuth(r.handleSessionWS))

	// Push notifications (protected)
	r.mux.HandleFunc("POST /v1/push/register", r.withAuth(r.handlePushRegister))
	r.mux.HandleFunc("POST /v1/push/unregister", r.withAuth(r.handlePushUnregister))
	r.mux.HandleFunc("POST /v1/push/test", r.withAuth(r.handlePushTest))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports 503 once draining starts so the load balancer stops
// routing new sessions here while in-flight ones finish.
func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.sessions != nil && r.sessions.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func nowUTC() time.Time { return time.Now().UTC() }

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}

func wsURLFromPublicBase(publicBase string) string {
	// http://x -> ws://x
	// https://x -> wss://x
	if strings.HasPrefix(publicBase, "https://") {
		return "wss://" + strings.TrimPrefix(publicBase, "https://")
	}
	if strings.HasPrefix(publicBase, "http://") {
		return "ws://" + strings.TrimPrefix(publicBase, "http://")
	}
	// assume already host[:port]
	return "wss://" + publicBase
}
