package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"relaybot/internal/bridge"
	"relaybot/internal/notifier"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type fakeExec struct {
	mu      sync.Mutex
	sends   []string
	updates []transport.Update
	sendErr error
}

func (f *fakeExec) SendMessage(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, text)
	return f.sendErr
}

func (f *fakeExec) ProcessUpdate(ctx context.Context, up transport.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, up)
	return nil
}

type fakeParser struct {
	up         transport.Update
	consumable bool
	err        error
}

func (f *fakeParser) ParseUpdate(body []byte) (transport.Update, bool, error) {
	return f.up, f.consumable, f.err
}

type fixture struct {
	h    *handlers
	exec *fakeExec
}

func newFixture(t *testing.T, exec *fakeExec, parser UpdateParser, ready bool, start bool) *fixture {
	t.Helper()
	br := bridge.New(bridge.Config{}, exec, logx.Nop())
	if start {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		go func() { _ = br.Run(ctx) }()
		wctx, wcancel := context.WithTimeout(context.Background(), time.Second)
		defer wcancel()
		if err := br.WaitReady(wctx); err != nil {
			t.Fatalf("WaitReady: %v", err)
		}
	}
	nt := notifier.New(notifier.Config{}, br, logx.Nop(), nil, nil)
	h := newHandlers(Deps{
		Bridge:   br,
		Notifier: nt,
		Parser:   parser,
		Ready:    func() bool { return ready },
	}, time.Second)
	return &fixture{h: h, exec: exec}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var m map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&m); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestSendNotificationSuccess(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &fakeExec{}, &fakeParser{}, true, true)

	body := `{"chat_id": "482910", "message": "Server backup completed successfully."}`
	req := httptest.NewRequest(http.MethodPost, "/send_telegram_notification", strings.NewReader(body))
	rec := httptest.NewRecorder()
	fx.h.sendNotification(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["status"]; got != "Message sent" {
		t.Fatalf("status field = %q, want Message sent", got)
	}
	fx.exec.mu.Lock()
	defer fx.exec.mu.Unlock()
	if len(fx.exec.sends) != 1 || fx.exec.sends[0] != "Server backup completed successfully." {
		t.Fatalf("sends = %v", fx.exec.sends)
	}
}

func TestSendNotificationNumericChatID(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &fakeExec{}, &fakeParser{}, true, true)

	body := `{"chat_id": 482910, "message": "hi"}`
	req := httptest.NewRequest(http.MethodPost, "/send_telegram_notification", strings.NewReader(body))
	rec := httptest.NewRecorder()
	fx.h.sendNotification(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestSendNotificationMissingFields(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &fakeExec{}, &fakeParser{}, true, true)

	for _, body := range []string{
		`{}`,
		`{"chat_id": "482910"}`,
		`{"message": "hi"}`,
		`{"chat_id": "", "message": "hi"}`,
		`{"chat_id": "482910", "message": ""}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/send_telegram_notification", strings.NewReader(body))
		rec := httptest.NewRecorder()
		fx.h.sendNotification(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d, want 400", body, rec.Code)
		}
		if got := decodeBody(t, rec)["error"]; got != "Missing chat_id or message" {
			t.Fatalf("body %s: error = %q", body, got)
		}
	}

	fx.exec.mu.Lock()
	defer fx.exec.mu.Unlock()
	if len(fx.exec.sends) != 0 {
		t.Fatalf("rejected requests reached the executor: %v", fx.exec.sends)
	}
}

func TestSendNotificationNonNumericChatID(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &fakeExec{}, &fakeParser{}, true, true)

	body := `{"chat_id": "alice", "message": "hi"}`
	req := httptest.NewRequest(http.MethodPost, "/send_telegram_notification", strings.NewReader(body))
	rec := httptest.NewRecorder()
	fx.h.sendNotification(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSendNotificationInvalidJSON(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &fakeExec{}, &fakeParser{}, true, true)

	req := httptest.NewRequest(http.MethodPost, "/send_telegram_notification", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	fx.h.sendNotification(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSendNotificationSchedulerDown(t *testing.T) {
	t.Parallel()
	// Bridge never started: every submit is ErrSchedulerUnavailable.
	fx := newFixture(t, &fakeExec{}, &fakeParser{}, true, false)

	body := `{"chat_id": "1", "message": "hi"}`
	req := httptest.NewRequest(http.MethodPost, "/send_telegram_notification", strings.NewReader(body))
	rec := httptest.NewRecorder()
	fx.h.sendNotification(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestSendNotificationPlatformFailure(t *testing.T) {
	t.Parallel()
	exec := &fakeExec{sendErr: errors.New("forbidden: bot was blocked by the user")}
	fx := newFixture(t, exec, &fakeParser{}, true, true)

	body := `{"chat_id": "1", "message": "hi"}`
	req := httptest.NewRequest(http.MethodPost, "/send_telegram_notification", strings.NewReader(body))
	rec := httptest.NewRecorder()
	fx.h.sendNotification(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestSendNotificationMethodNotAllowed(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &fakeExec{}, &fakeParser{}, true, true)

	req := httptest.NewRequest(http.MethodGet, "/send_telegram_notification", nil)
	rec := httptest.NewRecorder()
	fx.h.sendNotification(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestWebhookNotReady(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &fakeExec{}, &fakeParser{}, false, true)

	req := httptest.NewRequest(http.MethodPost, "/telegram-webhook", strings.NewReader(`{"update_id":1}`))
	rec := httptest.NewRecorder()
	fx.h.telegramWebhook(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestWebhookDispatchesUpdate(t *testing.T) {
	t.Parallel()
	parser := &fakeParser{
		up:         transport.Update{ChatID: 482910, Command: "start", Text: "/start"},
		consumable: true,
	}
	fx := newFixture(t, &fakeExec{}, parser, true, true)

	req := httptest.NewRequest(http.MethodPost, "/telegram-webhook", strings.NewReader(`{"update_id":7}`))
	rec := httptest.NewRecorder()
	fx.h.telegramWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	fx.exec.mu.Lock()
	defer fx.exec.mu.Unlock()
	if len(fx.exec.updates) != 1 || fx.exec.updates[0].ChatID != 482910 {
		t.Fatalf("updates = %v", fx.exec.updates)
	}
}

func TestWebhookAcksNonConsumable(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &fakeExec{}, &fakeParser{consumable: false}, true, true)

	req := httptest.NewRequest(http.MethodPost, "/telegram-webhook", strings.NewReader(`{"update_id":7}`))
	rec := httptest.NewRecorder()
	fx.h.telegramWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	fx.exec.mu.Lock()
	defer fx.exec.mu.Unlock()
	if len(fx.exec.updates) != 0 {
		t.Fatalf("non-consumable update was dispatched: %v", fx.exec.updates)
	}
}

func TestWebhookAcksMalformedPayload(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &fakeExec{}, &fakeParser{err: errors.New("decode update: bad json")}, true, true)

	req := httptest.NewRequest(http.MethodPost, "/telegram-webhook", strings.NewReader("garbage"))
	rec := httptest.NewRecorder()
	fx.h.telegramWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 so Telegram drops the update", rec.Code)
	}
}

func TestWebhookGetIsInformational(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &fakeExec{}, &fakeParser{}, true, true)

	req := httptest.NewRequest(http.MethodGet, "/telegram-webhook", nil)
	rec := httptest.NewRecorder()
	fx.h.telegramWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "webhook") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &fakeExec{}, &fakeParser{}, true, true)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	fx.h.healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || !resp.Ready || !resp.Bridge.Running {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestHealthzNotReady(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &fakeExec{}, &fakeParser{}, false, false)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	fx.h.healthz(rec, req)

	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "starting" || resp.Ready {
		t.Fatalf("resp = %+v", resp)
	}
}
