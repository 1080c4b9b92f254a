package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/sift/internal/insight"
	"github.com/MikeSquared-Agency/sift/internal/predictor"
	"github.com/MikeSquared-Agency/sift/internal/scoring"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleResult() *scoring.Result {
	return &scoring.Result{
		Corpus: []scoring.ScoredMessage{
			{Text: "is prod down?\nyes, deploys keep failing", Sentiment: predictor.Negative, Category: "complaint", CategoryConfidence: 0.92, ChannelID: "C1"},
			{Text: "love the new dashboard", Sentiment: predictor.Positive, Category: "praise", CategoryConfidence: 0.81, ChannelID: "C2"},
			{Text: "when is the release?", Sentiment: predictor.Neutral, Category: "inquiry", CategoryConfidence: 0.7, ChannelID: "C1"},
		},
		Threads:  2,
		Messages: 6,
		Kept:     3,
		Dropped:  2,
		Failed:   1,
	}
}

func TestFormatReportMessage(t *testing.T) {
	msg := formatReportMessage("run-1", "export-2025-05.json", sampleResult())

	checks := []string{
		"export-2025-05.json",
		"6 in 2 threads",
		"kept 3, dropped 2, failed 1",
		"negative 1, neutral 1, positive 1",
		"complaint 1",
		"Negative messages: 1",
		"1. yes, deploys keep failing",
		"<#C1>",
		"0.92",
	}
	for _, check := range checks {
		if !strings.Contains(msg, check) {
			t.Errorf("expected message to contain %q\n%s", check, msg)
		}
	}
	if strings.Contains(msg, "is prod down?") {
		t.Error("thread context should not be quoted")
	}
}

func TestFormatReportMessage_Empty(t *testing.T) {
	msg := formatReportMessage("run-1", "x.json", &scoring.Result{Messages: 4, Dropped: 4})
	if !strings.Contains(msg, "Nothing worth flagging") {
		t.Errorf("expected empty message, got %q", msg)
	}
}

func TestFormatReportMessage_CapsHighlights(t *testing.T) {
	res := &scoring.Result{}
	for i := 0; i < maxHighlights+3; i++ {
		res.Corpus = append(res.Corpus, scoring.ScoredMessage{
			Text: fmt.Sprintf("complaint %d", i), Sentiment: predictor.Negative, Category: "complaint", CategoryConfidence: 0.9,
		})
	}
	msg := formatReportMessage("run-1", "x.json", res)
	if !strings.Contains(msg, "...and 3 more") {
		t.Errorf("expected overflow note, got %q", msg)
	}
	if strings.Contains(msg, fmt.Sprintf("complaint %d\n", maxHighlights)) {
		t.Error("highlight beyond cap was printed")
	}
}

func TestFormatInsights(t *testing.T) {
	msg := formatInsights(&insight.Report{
		Summary:   "Deploy pain dominates.",
		KeyIssues: []string{"flaky CI"},
		NextSteps: []string{"quarantine flaky tests", "add a deploy dashboard"},
	})
	for _, check := range []string{"Deploy pain dominates.", "*Key issues*", "• flaky CI", "• add a deploy dashboard"} {
		if !strings.Contains(msg, check) {
			t.Errorf("expected insights to contain %q", check)
		}
	}
	if strings.Contains(msg, "*Positive*") {
		t.Error("empty sections should be omitted")
	}
}

func TestPostReport_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			t.Errorf("expected Bearer xoxb-test, got %q", r.Header.Get("Authorization"))
		}

		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		json.Unmarshal(body, &payload)

		if payload["channel"] != "C123" {
			t.Errorf("expected channel C123, got %v", payload["channel"])
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"ts": "1234567890.123456",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	ts, err := p.PostReport(context.Background(), "run-1", "x.json", sampleResult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts != "1234567890.123456" {
		t.Errorf("expected ts 1234567890.123456, got %q", ts)
	}
}

func TestPostReport_SlackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":    false,
			"error": "channel_not_found",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	_, err := p.PostReport(context.Background(), "run-1", "x.json", sampleResult())
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("expected slack error, got %v", err)
	}
}

func TestPostInsights_Threaded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["thread_ts"] != "111.222" {
			t.Errorf("expected thread_ts 111.222, got %v", payload["thread_ts"])
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "111.333"})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	if err := p.PostInsights(context.Background(), "111.222", &insight.Report{Summary: "ok"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
