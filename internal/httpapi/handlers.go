package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"relaybot/internal/bridge"
	"relaybot/internal/notifier"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

const maxBodyBytes = 1 << 20

// UpdateParser decodes a raw webhook body into a transport update.
// The bool reports whether the update carries anything worth dispatching.
type UpdateParser interface {
	ParseUpdate(body []byte) (transport.Update, bool, error)
}

type Deps struct {
	Log      logx.Logger
	Bridge   *bridge.Bridge
	Notifier *notifier.Service
	Parser   UpdateParser
	Ready    func() bool
}

type handlers struct {
	log           logx.Logger
	br            *bridge.Bridge
	nt            *notifier.Service
	parser        UpdateParser
	ready         func() bool
	submitTimeout time.Duration
}

func newHandlers(deps Deps, submitTimeout time.Duration) *handlers {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	ready := deps.Ready
	if ready == nil {
		ready = func() bool { return false }
	}
	return &handlers{
		log:           log,
		br:            deps.Bridge,
		nt:            deps.Notifier,
		parser:        deps.Parser,
		ready:         ready,
		submitTimeout: submitTimeout,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// telegramWebhook accepts update payloads from Telegram. Once the service is
// ready it always answers 200 so Telegram does not retry-storm us; failures
// inside the pipeline are logged, not surfaced to Telegram.
func (h *handlers) telegramWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "Telegram webhook endpoint. POST updates here.\n")
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service is starting"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.log.Warn("webhook body read failed", logx.Err(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	up, consumable, err := h.parser.ParseUpdate(body)
	if err != nil {
		// Malformed payloads are acknowledged so Telegram drops them.
		h.log.Warn("webhook parse failed", logx.Err(err))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if !consumable {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if err := h.br.SubmitUpdate(r.Context(), up, h.submitTimeout); err != nil {
		h.log.Warn("webhook update dispatch failed",
			logx.Int64("update_id", up.ID),
			logx.Int64("chat_id", up.ChatID),
			logx.Err(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// notifyPayload tolerates chat_id arriving as either a JSON string or number.
type notifyPayload struct {
	ChatID  json.RawMessage `json:"chat_id"`
	Message string          `json:"message"`
}

func (p notifyPayload) chatID() string {
	raw := strings.TrimSpace(string(p.ChatID))
	if raw == "" || raw == "null" {
		return ""
	}
	if s, err := strconv.Unquote(raw); err == nil {
		return s
	}
	return raw
}

func (h *handlers) sendNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var p notifyPayload
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	chatID := p.chatID()
	if chatID == "" || strings.TrimSpace(p.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing chat_id or message"})
		return
	}

	err := h.nt.Send(r.Context(), notifier.Request{ChatID: chatID, Message: p.Message})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "Message sent"})
	case isValidation(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, bridge.ErrSchedulerUnavailable), errors.Is(err, bridge.ErrShutdown):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "notification service unavailable"})
	case errors.Is(err, bridge.ErrTimeout):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "timed out waiting for delivery"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func isValidation(err error) bool {
	var ve *notifier.ValidationError
	return errors.As(err, &ve)
}

type healthResponse struct {
	Status string       `json:"status"`
	Ready  bool         `json:"ready"`
	Bridge bridge.Stats `json:"bridge"`
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Ready: h.ready()}
	if h.br != nil {
		resp.Bridge = h.br.Stats()
	}
	if resp.Ready {
		resp.Status = "ok"
	} else {
		resp.Status = "starting"
	}
	writeJSON(w, http.StatusOK, resp)
}
