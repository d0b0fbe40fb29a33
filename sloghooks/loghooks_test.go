package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newBuffered() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(h), &buf
}

func TestRedactsKeysByDefault(t *testing.T) {
	l, buf := newBuffered()
	h := New(l, Options{})

	h.MirrorSetRejected("feedcache:home:snapshot")
	out := buf.String()
	if strings.Contains(out, "feedcache:home:snapshot") {
		t.Fatalf("raw key leaked: %s", out)
	}
	if !strings.Contains(out, "feedcache.mirror_set_rejected") {
		t.Fatalf("missing event: %s", out)
	}
}

func TestCustomRedact(t *testing.T) {
	l, buf := newBuffered()
	h := New(l, Options{Redact: func(string) string { return "REDACTED" }})

	h.MirrorSelfHeal("feedcache:home:snapshot", "gen_mismatch")
	if out := buf.String(); !strings.Contains(out, "key=REDACTED") || !strings.Contains(out, "reason=gen_mismatch") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestSampling(t *testing.T) {
	l, buf := newBuffered()
	h := New(l, Options{OperationFailedEvery: 3})

	for i := 0; i < 9; i++ {
		h.OperationFailed("insert", "commit", errors.New("boom"))
	}
	if n := strings.Count(buf.String(), "feedcache.operation_failed"); n != 3 {
		t.Fatalf("expected 3 sampled lines, got %d", n)
	}

	// rollback failures are never sampled
	h.RollbackFailed("insert", errors.New("boom"))
	if !strings.Contains(buf.String(), "feedcache.rollback_failed") {
		t.Fatalf("rollback failure not logged")
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	h := New(nil, Options{})
	h.OperationFailed("insert", "commit", errors.New("boom"))
	h.RollbackFailed("insert", errors.New("boom"))
	h.MirrorSelfHeal("k", "corrupt")
	h.MirrorSetRejected("k")
}
