package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var recs []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("unmarshal log line %q: %v", line, err)
		}
		recs = append(recs, rec)
	}
	return recs
}

func TestNewJSONWritesRoutingFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(Policy("congestion"), Tick(4)).Warn(context.Background(), "could not compute a valid local target",
		Vehicle("v1"),
		Edge("e2"),
		Target("e3"),
		Float64("lookahead", 20),
		Err(errors.New("boom")),
	)

	recs := decodeLines(t, &buf)
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %d", len(recs))
	}
	rec := recs[0]
	if rec["msg"] != "could not compute a valid local target" || rec["level"] != "WARN" {
		t.Fatalf("unexpected record %v", rec)
	}
	want := map[string]any{
		"policy":     "congestion",
		"tick":       float64(4),
		"vehicle_id": "v1",
		"edge":       "e2",
		"target":     "e3",
		"error":      "boom",
	}
	for k, v := range want {
		if rec[k] != v {
			t.Fatalf("field %s = %v, want %v (record %v)", k, rec[k], v, rec)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	log.Info(context.Background(), "tick complete")
	if buf.Len() != 0 {
		t.Fatalf("info log should be filtered at warn level, got %q", buf.String())
	}
	log.Error(context.Background(), "metrics server exited")
	if !strings.Contains(buf.String(), "metrics server exited") {
		t.Fatalf("error log missing from %q", buf.String())
	}
}

func TestParseLevelAndFormat(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for name, want := range cases {
		got, err := ParseLevel(name)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); !errors.Is(err, ErrUnknownLevel) {
		t.Fatalf("ParseLevel(loud) error = %v, want ErrUnknownLevel", err)
	}

	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Fatalf("ParseFormat(JSON) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Fatalf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("ParseFormat(xml) error = %v, want ErrUnknownFormat", err)
	}
}

func TestUnknownConfigFallsBackToInfoText(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "loud", Format: "xml", Output: &buf})
	log.Debug(context.Background(), "hidden")
	log.Info(context.Background(), "shown", Vehicle("v1"))
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "vehicle_id=v1") {
		t.Fatalf("expected info-level text output, got %q", out)
	}
}

func TestRunLoggerTagsEveryLine(t *testing.T) {
	var buf bytes.Buffer
	ctx, log := WithRunLogger(context.Background(), New(Config{Format: "json", Output: &buf}))
	id := RunIDFromContext(ctx)
	if id == "" {
		t.Fatalf("WithRunLogger should attach a run id")
	}
	again, same := EnsureRunID(ctx)
	if same != id || RunIDFromContext(again) != id {
		t.Fatalf("EnsureRunID should reuse existing id %q, got %q", id, same)
	}

	log.Info(ctx, "simulation started")
	log.With(Tick(1)).Info(ctx, "tick complete")
	for _, rec := range decodeLines(t, &buf) {
		if rec["run_id"] != id {
			t.Fatalf("record %v missing run_id %q", rec, id)
		}
	}

	if _, l := WithRunLogger(context.Background(), nil); l == nil {
		t.Fatalf("WithRunLogger(nil) should return a noop logger")
	}
	if RunIDFromContext(context.Background()) != "" {
		t.Fatalf("expected empty run id from bare context")
	}
}
