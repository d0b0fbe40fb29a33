package slog

import (
	"context"
	stdslog "log/slog"

	"github.com/unkn0wn-root/feedcache"
)

var _ feedcache.Logger = Logger{}

// Logger forwards to L. Ctx, when set, is passed to the handler so
// context-aware handlers can attach request or trace values.
type Logger struct {
	L   *stdslog.Logger
	Ctx context.Context
}

func (s Logger) Debug(msg string, f feedcache.Fields) { s.log(stdslog.LevelDebug, msg, f) }
func (s Logger) Info(msg string, f feedcache.Fields)  { s.log(stdslog.LevelInfo, msg, f) }
func (s Logger) Warn(msg string, f feedcache.Fields)  { s.log(stdslog.LevelWarn, msg, f) }
func (s Logger) Error(msg string, f feedcache.Fields) { s.log(stdslog.LevelError, msg, f) }

func (s Logger) log(level stdslog.Level, msg string, f feedcache.Fields) {
	ctx := s.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.L.Enabled(ctx, level) {
		return
	}
	s.L.LogAttrs(ctx, level, msg, attrs(f)...)
}

func attrs(f feedcache.Fields) []stdslog.Attr {
	if len(f) == 0 {
		return nil
	}
	out := make([]stdslog.Attr, 0, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok {
			out = append(out, stdslog.String(k, err.Error()))
			continue
		}
		out = append(out, stdslog.Any(k, v))
	}
	return out
}
