package telegram

import (
	"strings"
	"testing"

	logx "relaybot/pkg/logx"
)

func TestParseCommandText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in       string
		wantCmd  string
		wantArgs []string
	}{
		{"/start", "start", nil},
		{"/START", "start", nil},
		{"/mychatid", "mychatid", nil},
		{"/start@MyNotifyBot", "start", nil},
		{"/notify me now", "notify", []string{"me", "now"}},
		{"  /start  ", "start", nil},
		{"hello there", "", nil},
		{"", "", nil},
		{"/", "", nil},
		{"/@Bot", "", nil},
	}
	for _, tc := range tests {
		cmd, args := parseCommandText(tc.in)
		if cmd != tc.wantCmd {
			t.Errorf("parseCommandText(%q) cmd = %q, want %q", tc.in, cmd, tc.wantCmd)
		}
		if len(args) != len(tc.wantArgs) {
			t.Errorf("parseCommandText(%q) args = %v, want %v", tc.in, args, tc.wantArgs)
			continue
		}
		for i := range args {
			if args[i] != tc.wantArgs[i] {
				t.Errorf("parseCommandText(%q) args = %v, want %v", tc.in, args, tc.wantArgs)
				break
			}
		}
	}
}

func TestSplitTextShortPassesThrough(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("x", 60) + "\n" + strings.Repeat("y", 60)
	got := splitText(text, 100)
	if len(got) != 2 {
		t.Fatalf("chunks = %d (%v), want 2", len(got), got)
	}
	if strings.ContainsRune(got[0], 'y') || strings.ContainsRune(got[1], 'x') {
		t.Fatalf("split did not land on the newline: %v", got)
	}
}

func TestSplitTextHardLimit(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 250)
	got := splitText(text, 100)
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	var total int
	for _, c := range got {
		if n := len([]rune(c)); n > 100 {
			t.Fatalf("chunk over limit: %d runes", n)
		} else {
			total += n
		}
	}
	if total != 250 {
		t.Fatalf("total runes = %d, want 250", total)
	}
}

func TestParseUpdateMessage(t *testing.T) {
	t.Parallel()
	a := &Adapter{}
	payload := []byte(`{
		"update_id": 99,
		"message": {
			"message_id": 5,
			"chat": {"id": 482910, "type": "private"},
			"from": {"id": 482910, "first_name": "Ava", "username": "ava_w"},
			"text": "/start"
		}
	}`)
	up, ok, err := a.ParseUpdate(payload)
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if !ok {
		t.Fatal("message update reported non-consumable")
	}
	if up.ChatID != 482910 || up.FromID != 482910 {
		t.Errorf("ids = %+v", up)
	}
	if up.FromName != "Ava" {
		t.Errorf("FromName = %q, want Ava", up.FromName)
	}
	if up.Command != "start" {
		t.Errorf("Command = %q, want start", up.Command)
	}
}

func TestParseUpdateUsernameFallback(t *testing.T) {
	t.Parallel()
	a := &Adapter{}
	payload := []byte(`{
		"update_id": 100,
		"message": {
			"message_id": 6,
			"chat": {"id": 7, "type": "private"},
			"from": {"id": 7, "first_name": "", "username": "ghost"},
			"text": "hi"
		}
	}`)
	up, ok, err := a.ParseUpdate(payload)
	if err != nil || !ok {
		t.Fatalf("ParseUpdate: ok=%v err=%v", ok, err)
	}
	if up.FromName != "ghost" {
		t.Errorf("FromName = %q, want username fallback", up.FromName)
	}
	if up.IsCommand() {
		t.Error("plain text classified as command")
	}
}

func TestParseUpdateNonMessage(t *testing.T) {
	t.Parallel()
	a := &Adapter{}
	up, ok, err := a.ParseUpdate([]byte(`{"update_id": 101, "edited_message": {"message_id": 1}}`))
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if ok {
		t.Fatalf("non-message update reported consumable: %+v", up)
	}
}

func TestParseUpdateMalformed(t *testing.T) {
	t.Parallel()
	a := &Adapter{}
	if _, _, err := a.ParseUpdate([]byte("not json at all")); err == nil {
		t.Fatal("malformed payload accepted")
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("empty token accepted")
	}
}
