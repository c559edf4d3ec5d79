package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dootlabs/doot/pkg/bus"
)

// gmailPrompt is the synthetic turn triggered by a Gmail push notification.
const gmailPrompt = "A new email just arrived. Get the most recent email from my inbox, " +
	"summarize it clearly, and suggest specific actions I can take " +
	"(e.g. reply, archive, add to calendar, follow up later)."

// pushEnvelope is the Pub/Sub push wrapper around a Gmail notification.
type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// gmailNotification is the decoded Pub/Sub message data.
type gmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    any    `json:"historyId"`
}

// Server receives push webhooks and feeds them to the bus as synthetic turns.
// Handlers ack immediately; the turn itself runs on the serialized consumer,
// so webhook bursts cannot mutate the session concurrently.
type Server struct {
	bus  *bus.MessageBus
	http *http.Server
}

// NewServer creates the webhook server listening on addr.
func NewServer(addr string, b *bus.MessageBus) *Server {
	s := &Server{bus: b}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/webhook/gmail", s.handleGmailPush)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		log.Printf("Webhook server listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Webhook server stopped: %v", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleGmailPush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable body"})
		return
	}
	var envelope pushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		log.Printf("Gmail push with invalid JSON body: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}

	payload := decodeGmailNotification(envelope.Message.Data)
	if payload != nil {
		log.Printf("Gmail push: email=%s subscription=%s messageId=%s",
			payload.EmailAddress, envelope.Subscription, envelope.Message.MessageID)
		s.bus.PublishInbound(bus.InboundMessage{
			Channel:   bus.ChannelNotify,
			SenderID:  "gmail-push",
			Content:   gmailPrompt,
			Origin:    bus.OriginWebhook,
			Timestamp: time.Now(),
		})
	} else {
		log.Printf("Gmail push (undecodable): subscription=%s messageId=%s data_len=%d",
			envelope.Subscription, envelope.Message.MessageID, len(envelope.Message.Data))
	}

	// Always 200: acknowledge so Pub/Sub does not retry.
	resp := map[string]any{"ok": true}
	if payload != nil {
		resp["emailAddress"] = payload.EmailAddress
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeGmailNotification decodes the base64url message data, tolerating
// omitted padding. Returns nil when the data is missing or malformed.
func decodeGmailNotification(data string) *gmailNotification {
	if data == "" {
		return nil
	}
	if pad := len(data) % 4; pad != 0 {
		data += string([]byte{'=', '=', '='}[:4-pad])
	}
	raw, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		log.Printf("Could not decode gmail notification data: %v", err)
		return nil
	}
	var payload gmailNotification
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Printf("Could not parse gmail notification payload: %v", err)
		return nil
	}
	return &payload
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Could not write response: %v", err)
	}
}
