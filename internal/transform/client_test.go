package transform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgallion1/docforge/internal/doctree"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// replyServer answers every Messages API call with text, recording the last request.
func replyServer(t *testing.T, status int, text string, last *anthropicRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("anthropic-version") != apiVersion {
			t.Errorf("missing version header")
		}
		if last != nil {
			if err := json.NewDecoder(r.Body).Decode(last); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.WriteHeader(status)
		if status != http.StatusOK {
			io.WriteString(w, text)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]string{{"type": "text", "text": text}},
			"stop_reason": "end_turn",
		})
	}))
}

func TestClientTransform(t *testing.T) {
	reply := "```json\n" + `{"body":"## Setup\n\nInstall the tool.","visual_markers":[` +
		`{"kind":"flowchart","caption":"Install steps","placement":"after"},` +
		`{"kind":"hologram","caption":"Not a real kind","placement":"after"}]}` + "\n```"
	var req anthropicRequest
	srv := replyServer(t, http.StatusOK, reply, &req)
	defer srv.Close()

	stats := NewLLMStats(time.Hour)
	c := NewClient("test-key", "test-model", srv.URL, stats, quietLogger())
	chunk := doctree.Chunk{Index: 2, Text: "install it like this", ContextHeader: "Getting Started"}
	pos := doctree.Position{Index: 2, Total: 5, Topic: "CLI Guide", ContentType: "document"}

	sec, err := c.Transform(context.Background(), chunk, pos)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sec.ChunkIndex != 2 {
		t.Errorf("expected chunk index 2, got %d", sec.ChunkIndex)
	}
	if sec.Body != "## Setup\n\nInstall the tool." {
		t.Errorf("unexpected body %q", sec.Body)
	}
	if len(sec.VisualMarkers) != 1 || sec.VisualMarkers[0].Kind != "flowchart" {
		t.Errorf("expected one flowchart marker, got %+v", sec.VisualMarkers)
	}

	if req.Model != "test-model" || req.System != sectionSystemPrompt {
		t.Errorf("unexpected request model/system: %q", req.Model)
	}
	if req.MaxTokens < minSectionTokens || req.MaxTokens > maxSectionTokens {
		t.Errorf("max tokens %d out of range", req.MaxTokens)
	}
	prompt := req.Messages[0].Content
	for _, want := range []string{`Topic: "CLI Guide"`, "Part: 3 of 5", `Continues: "Getting Started"`, "install it like this"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("expected prompt to contain %q", want)
		}
	}

	snap := c.Stats()
	if snap.Model != "test-model" || snap.ByOperation[OpTransform].Count != 1 {
		t.Errorf("expected one recorded transform call, got %+v", snap)
	}
}

func TestClientTransform_EmptyBody(t *testing.T) {
	srv := replyServer(t, http.StatusOK, `{"body":"   ","visual_markers":[]}`, nil)
	defer srv.Close()

	c := NewClient("test-key", "m", srv.URL, nil, quietLogger())
	_, err := c.Transform(context.Background(), doctree.Chunk{Text: "x"}, doctree.Position{Total: 1})
	if !errors.Is(err, ErrEmptySection) {
		t.Fatalf("expected ErrEmptySection, got %v", err)
	}
}

func TestClientTransform_UnparseableReply(t *testing.T) {
	srv := replyServer(t, http.StatusOK, "I cannot help with that.", nil)
	defer srv.Close()

	c := NewClient("test-key", "m", srv.URL, nil, quietLogger())
	_, err := c.Transform(context.Background(), doctree.Chunk{Text: "x"}, doctree.Position{Total: 1})
	if !errors.Is(err, ErrParseFailed) {
		t.Fatalf("expected ErrParseFailed, got %v", err)
	}
}

func TestClient_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		srv := replyServer(t, tt.status, `{"error":{"type":"x","message":"nope"}}`, nil)
		stats := NewLLMStats(time.Hour)
		c := NewClient("test-key", "m", srv.URL, stats, quietLogger())

		_, err := c.TitleFor(context.Background(), "preview")
		var re *RetryableError
		if got := errors.As(err, &re); got != tt.retryable {
			t.Errorf("status %d: expected retryable=%v, got err %v", tt.status, tt.retryable, err)
		}
		if err == nil {
			t.Errorf("status %d: expected error", tt.status)
		}
		if f := stats.Snapshot().Overall.Failures; f != 1 {
			t.Errorf("status %d: expected 1 recorded failure, got %d", tt.status, f)
		}
		srv.Close()
	}
}

func TestClientTitleFor(t *testing.T) {
	srv := replyServer(t, http.StatusOK, "Title: \"Scaling Event Pipelines.\"\n\nExtra commentary", nil)
	defer srv.Close()

	c := NewClient("test-key", "m", srv.URL, nil, quietLogger())
	title, err := c.TitleFor(context.Background(), "preview text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if title != "Scaling Event Pipelines" {
		t.Errorf("expected cleaned title, got %q", title)
	}
}

func TestClient_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"content":[]}`)
	}))
	defer srv.Close()

	c := NewClient("test-key", "m", srv.URL, nil, quietLogger())
	if _, err := c.TitleFor(context.Background(), "p"); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestClient_ContextCancel(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewClient("test-key", "m", srv.URL, nil, quietLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Transform(ctx, doctree.Chunk{Text: "x"}, doctree.Position{Total: 1})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCleanTitle(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Plain Title", "Plain Title"},
		{"# Heading Title\n", "Heading Title"},
		{"\n\n  **Bold Title**  ", "Bold Title"},
		{"title: lower label", "lower label"},
		{"“Curly Quoted.”", "Curly Quoted"},
		{"   \n  ", ""},
		{strings.Repeat("x", 200), strings.Repeat("x", maxTitleLen)},
	}
	for _, tt := range tests {
		if got := cleanTitle(tt.in); got != tt.want {
			t.Errorf("cleanTitle(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestBuildSectionPrompt(t *testing.T) {
	p := buildSectionPrompt(doctree.Chunk{Index: 0, Text: "body"}, doctree.Position{Index: 0, Total: 1, ContentType: "transcript"})
	if !strings.Contains(p, "spoken transcript") {
		t.Error("expected transcript guidance")
	}
	if strings.Contains(p, "Continues:") {
		t.Error("first chunk should not carry a continuation header")
	}
	if strings.Contains(p, "last part") {
		t.Error("single-part runs should not be marked as last part")
	}

	p = buildSectionPrompt(doctree.Chunk{Index: 3, Text: "end"}, doctree.Position{Index: 3, Total: 4, ContentType: "unknown"})
	if !strings.Contains(p, "written document") || !strings.Contains(p, "This is the last part.") {
		t.Errorf("unexpected prompt %q", p)
	}
}
