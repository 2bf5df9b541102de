package handlers

import (
	"context"
	"encoding/json"
	"html/template"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	chatrelay "github.com/comfortillo/chat-relay"
	"github.com/comfortillo/chat-relay/internal/models"
	"github.com/google/uuid"
)

// LLM represents a large language model interface that provides chat functionality. It accepts a context
// and a sequence of messages, returning an iterator that yields response chunks and potential errors.
// The iterator must stop once the context is cancelled.
type LLM interface {
	Name() string
	Model() string
	Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error]
}

// Journal records relay exchanges. Implementations must not keep message contents.
type Journal interface {
	Begin(ctx context.Context, ex models.Exchange) error
	Finish(ctx context.Context, ex models.Exchange) error
	Recent(ctx context.Context, limit int) ([]models.Exchange, error)
}

// Limiter decides whether a client identified by key may issue another request.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Config holds the handler settings that come from the process configuration.
type Config struct {
	// ErrorPrefix is the localized label put in front of every error body.
	ErrorPrefix string
}

// DefaultErrorPrefix is the label used when none is configured.
const DefaultErrorPrefix = "Sunucu hatası"

// Main handles the relay endpoint and the small set of supporting pages around it. The LLM client
// is constructed once at start-up and shared by every request.
type Main struct {
	templates *template.Template

	llm     LLM
	journal Journal
	cfg     Config

	logger *slog.Logger

	now   func() time.Time
	newID func() string
}

const errLoggerKey = "err"

const defaultRecentLimit = 50

// NewMain creates a new Main instance with the provided LLM and optional Journal. A nil journal
// disables exchange recording. It parses the test chat template from the embedded filesystem.
func NewMain(llm LLM, journal Journal, cfg Config, logger *slog.Logger) (Main, error) {
	tmpl, err := template.ParseFS(chatrelay.TemplateFS, "templates/*.html")
	if err != nil {
		return Main{}, err
	}

	if cfg.ErrorPrefix == "" {
		cfg.ErrorPrefix = DefaultErrorPrefix
	}

	return Main{
		templates: tmpl,
		llm:       llm,
		journal:   journal,
		cfg:       cfg,
		logger:    logger.With(slog.String("module", "main")),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}, nil
}

// HandleHealth reports liveness and the configured upstream.
func (m Main) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"provider": m.llm.Name(),
		"model":    m.llm.Model(),
	})
}

// HandleExchanges lists the most recent exchanges recorded by the journal, newest first. The
// optional "limit" query parameter bounds the result.
func (m Main) HandleExchanges(w http.ResponseWriter, r *http.Request) {
	if m.journal == nil {
		http.NotFound(w, r)
		return
	}

	limit := defaultRecentLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	exchanges, err := m.journal.Recent(r.Context(), limit)
	if err != nil {
		m.logger.Error("Failed to list exchanges", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if exchanges == nil {
		exchanges = []models.Exchange{}
	}

	writeJSON(w, http.StatusOK, exchanges)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
