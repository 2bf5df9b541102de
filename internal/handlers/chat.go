package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/comfortillo/chat-relay/internal/models"
)

// HandleChat relays a conversation to the upstream provider and streams the reply back as it arrives.
//
// The handler expects a JSON body with a "messages" array. It waits for the first chunk before
// committing the response: an upstream failure up to that point produces a single 500 response
// whose body is the error prefixed with the configured label. Once the first chunk is written the
// status is 200 and every later chunk is written and flushed as soon as it is received, in the
// order the provider produced it.
//
// A failure after streaming started ends the response early. With the default text framing the
// client sees a truncated body with no marker; with "?format=sse" an "error" event is sent first.
// If the client goes away, the upstream call is cancelled.
func (m Main) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	framing, err := parseFraming(r.URL.Query().Get("format"))
	if err != nil {
		m.writeError(w, http.StatusBadRequest, err)
		return
	}

	req, err := models.DecodeChatRequest(r.Body)
	if err != nil {
		status := http.StatusBadRequest
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			status = http.StatusRequestEntityTooLarge
		}
		m.logger.Warn("Rejected chat request", slog.String(errLoggerKey, err.Error()))
		m.writeError(w, status, err)
		return
	}

	ex := models.NewExchange(m.newID(), len(req.Messages), m.now())
	logger := m.logger.With(slog.String("exchangeID", ex.ID))
	m.beginExchange(r.Context(), ex, logger)
	w.Header().Set("X-Exchange-ID", ex.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	chunks := produce(ctx, m.llm.Chat(ctx, req.Messages))

	first, ok := <-chunks
	switch {
	case !ok && r.Context().Err() != nil:
		m.finishExchange(r.Context(), &ex, models.OutcomeCancelled, r.Context().Err(), logger)
		return
	case ok && first.err != nil:
		logger.Error("Upstream call failed", slog.String(errLoggerKey, first.err.Error()))
		m.writeError(w, http.StatusInternalServerError, first.err)
		m.finishExchange(r.Context(), &ex, models.OutcomeFailed, first.err, logger)
		return
	}

	sw := newStreamWriter(w, framing)
	if err := sw.start(); err != nil {
		m.finishExchange(r.Context(), &ex, models.OutcomeCancelled, err, logger)
		return
	}

	if !ok {
		// The provider finished without producing any text.
		if err := sw.done(); err != nil {
			logger.Warn("Failed to close stream", slog.String(errLoggerKey, err.Error()))
		}
		m.finishExchange(r.Context(), &ex, models.OutcomeCompleted, nil, logger)
		return
	}

	for c := first; ; {
		if c.err != nil {
			logger.Error("Upstream stream failed", slog.String(errLoggerKey, c.err.Error()))
			if err := sw.fail(m.errorBody(c.err)); err != nil {
				logger.Warn("Failed to send error event", slog.String(errLoggerKey, err.Error()))
			}
			m.finishExchange(r.Context(), &ex, models.OutcomeTruncated, c.err, logger)
			return
		}

		n, err := sw.chunk(c.text)
		if err != nil {
			cancel()
			m.finishExchange(r.Context(), &ex, models.OutcomeCancelled, err, logger)
			return
		}
		_ = ex.Relayed(n)

		var ok bool
		c, ok = <-chunks
		if !ok {
			break
		}
	}

	if err := r.Context().Err(); err != nil {
		m.finishExchange(r.Context(), &ex, models.OutcomeCancelled, err, logger)
		return
	}

	if err := sw.done(); err != nil {
		logger.Warn("Failed to close stream", slog.String(errLoggerKey, err.Error()))
	}
	m.finishExchange(r.Context(), &ex, models.OutcomeCompleted, nil, logger)
}

func (m Main) errorBody(err error) string {
	return fmt.Sprintf("%s: %v", m.cfg.ErrorPrefix, err)
}

func (m Main) writeError(w http.ResponseWriter, status int, err error) {
	http.Error(w, m.errorBody(err), status)
}

func (m Main) beginExchange(ctx context.Context, ex models.Exchange, logger *slog.Logger) {
	logger.Debug("Relaying conversation", slog.Int("messages", ex.Messages))
	if m.journal == nil {
		return
	}
	if err := m.journal.Begin(context.WithoutCancel(ctx), ex); err != nil {
		logger.Error("Failed to record exchange", slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) finishExchange(ctx context.Context, ex *models.Exchange, outcome models.Outcome, cause error,
	logger *slog.Logger,
) {
	if err := ex.Close(outcome, cause, m.now()); err != nil {
		logger.Error("Failed to close exchange", slog.String(errLoggerKey, err.Error()))
		return
	}

	logger.Info("Exchange closed",
		slog.String("outcome", string(ex.Outcome)),
		slog.Int("chunks", ex.Chunks),
		slog.Int64("bytes", ex.Bytes),
		slog.Duration("duration", ex.Duration(m.now())))

	if m.journal == nil {
		return
	}
	if err := m.journal.Finish(context.WithoutCancel(ctx), *ex); err != nil {
		logger.Error("Failed to record exchange", slog.String(errLoggerKey, err.Error()))
	}
}
