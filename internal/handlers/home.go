package handlers

import (
	"log/slog"
	"net/http"
)

type testChatPageData struct {
	Title       string
	Placeholder string
	Send        string
	ReplyLabel  string
	Waiting     string
	NoReply     string
	Endpoint    string
}

var testChatPage = testChatPageData{
	Title:       "Comfortillo Test Chat",
	Placeholder: "Mesajını yaz...",
	Send:        "Gönder",
	ReplyLabel:  "AI cevabı:",
	Waiting:     "Bekleniyor...",
	NoReply:     "Yanıt alınamadı.",
	Endpoint:    "/api/chat",
}

// HandleHome renders the test chat page, a single form that sends one user message to the relay and
// renders the reply as it streams in.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := m.templates.ExecuteTemplate(w, "test_chat.html", testChatPage); err != nil {
		m.logger.Error("Failed to render test chat page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
