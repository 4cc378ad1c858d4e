package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/haasonsaas/mailops/pkg/models"
)

type countingRecorder struct {
	mu      sync.Mutex
	success int
	failure int
}

func (r *countingRecorder) DeliveryAttempted(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if success {
		r.success++
	} else {
		r.failure++
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, recorder Recorder) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{
		ServerToken:    "pm-test-token",
		From:           "assistant@example.com",
		ReplyToPattern: "ops+%s@inbound.example.com",
		Tag:            "mailops",
		BaseURL:        server.URL,
		Recorder:       recorder,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestDeliver(t *testing.T) {
	dir := t.TempDir()
	plot := filepath.Join(dir, "cpu123.png")
	if err := os.WriteFile(plot, []byte("png-bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	var got Email
	var token string
	recorder := &countingRecorder{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/email" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		token = r.Header.Get("X-Postmark-Server-Token")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"To":"ops@example.com","MessageID":"abc","ErrorCode":0,"Message":"OK"}`))
	}, recorder)

	err := client.Deliver(context.Background(), models.DeliveryRequest{
		ThreadKey:       "f00dfeed12",
		ToAddress:       "ops@example.com",
		Subject:         "Server Status",
		BodyMarkdown:    "**All** good ![chart](cid:cpu123)",
		AttachmentPaths: []string{plot, plot},
	})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if token != "pm-test-token" {
		t.Errorf("server token header = %q", token)
	}
	if got.ReplyTo != "ops+f00dfeed12@inbound.example.com" {
		t.Errorf("ReplyTo = %q", got.ReplyTo)
	}
	if got.MessageStream != DefaultMessageStream || got.Tag != "mailops" {
		t.Errorf("MessageStream = %q, Tag = %q", got.MessageStream, got.Tag)
	}
	if !strings.Contains(got.HTMLBody, "<strong>All</strong>") || !strings.Contains(got.HTMLBody, `src="cid:cpu123"`) {
		t.Errorf("HtmlBody = %q", got.HTMLBody)
	}
	if got.TextBody != "**All** good ![chart](cid:cpu123)" {
		t.Errorf("TextBody = %q", got.TextBody)
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1 (duplicates collapse)", len(got.Attachments))
	}
	att := got.Attachments[0]
	decoded, _ := base64.StdEncoding.DecodeString(att.Content)
	if att.Name != "cpu123.png" || att.ContentID != "cid:cpu123" || att.ContentType != "image/png" || string(decoded) != "png-bytes" {
		t.Errorf("attachment = %+v", att)
	}
	if recorder.success != 1 {
		t.Errorf("recorded successes = %d, want 1", recorder.success)
	}
}

func TestDeliver_APIError(t *testing.T) {
	recorder := &countingRecorder{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"ErrorCode":300,"Message":"Invalid email request"}`))
	}, recorder)

	err := client.Deliver(context.Background(), models.DeliveryRequest{ToAddress: "ops@example.com", Subject: "x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Deliver() error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || apiErr.ErrorCode != 300 {
		t.Errorf("APIError = %+v", apiErr)
	}
	if recorder.failure != 1 {
		t.Errorf("recorded failures = %d, want 1", recorder.failure)
	}
}

func TestDeliver_MissingAttachment(t *testing.T) {
	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true }, nil)

	err := client.Deliver(context.Background(), models.DeliveryRequest{
		ToAddress:       "ops@example.com",
		AttachmentPaths: []string{filepath.Join(t.TempDir(), "missing.png")},
	})
	if err == nil {
		t.Fatal("Deliver() error = nil, want read failure")
	}
	if called {
		t.Error("API called despite attachment failure")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "valid", config: Config{ServerToken: "t", From: "a@example.com"}},
		{name: "missing token", config: Config{From: "a@example.com"}, wantErr: true},
		{name: "missing from", config: Config{ServerToken: "t"}, wantErr: true},
		{name: "pattern without verb", config: Config{ServerToken: "t", From: "a@example.com", ReplyToPattern: "ops@example.com"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (tt.config.MessageStream != DefaultMessageStream || tt.config.BaseURL != postmarkBaseURL) {
				t.Errorf("defaults not applied: %+v", tt.config)
			}
		})
	}
}

func TestReplyToAndContentID(t *testing.T) {
	if got := ReplyTo("", "k"); got != "" {
		t.Errorf("ReplyTo(empty) = %q", got)
	}
	if got := ReplyTo("ops+%s@example.com", "k1"); got != "ops+k1@example.com" {
		t.Errorf("ReplyTo() = %q", got)
	}
	if got := ContentID("/scratch/memory_17.png"); got != "cid:memory_17" {
		t.Errorf("ContentID() = %q", got)
	}
}

func TestInboundPayloadMessage(t *testing.T) {
	raw := `{
		"MessageID": "m-1",
		"From": "Ops <OPS@example.com>",
		"FromFull": {"Email": "OPS@example.com", "Name": "Ops"},
		"Subject": "Status check",
		"TextBody": "How's the server?",
		"MailboxHash": " f00dfeed12 "
	}`
	var payload InboundPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	msg := payload.Message()
	want := models.InboundMessage{
		MessageID:       "m-1",
		FromAddress:     "OPS@example.com",
		Subject:         "Status check",
		TextBody:        "How's the server?",
		CorrelationHint: "f00dfeed12",
	}
	if msg != want {
		t.Errorf("Message() = %+v, want %+v", msg, want)
	}

	stripped := InboundPayload{From: "a@example.com", StrippedTextReply: "reply only"}
	if got := stripped.Message(); got.TextBody != "reply only" || got.FromAddress != "a@example.com" {
		t.Errorf("fallback Message() = %+v", got)
	}
}
