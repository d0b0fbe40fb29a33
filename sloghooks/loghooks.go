package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/feedcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery        uint64
	OperationFailedEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	opFailedCtr atomic.Uint64
}

var _ feedcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) OperationFailed(op, stage string, err error) {
	if h.l == nil || !sample(h.opts.OperationFailedEvery, &h.opFailedCtr) {
		return
	}
	h.l.Warn("feedcache.operation_failed",
		"op", op,
		"stage", stage,
		"err", err)
}

func (h *Hooks) RollbackFailed(op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("feedcache.rollback_failed",
		"op", op,
		"err", err)
}

func (h *Hooks) MirrorSelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("feedcache.mirror_self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) MirrorSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("feedcache.mirror_set_rejected",
		"key", h.redact(storageKey))
}
