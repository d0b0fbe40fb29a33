// Package config builds a feedcache.Store from environment variables.
//
//	FEEDCACHE_BACKEND           memory | file | sqlite | redis   (sqlite)
//	FEEDCACHE_LOCATION          path, or key namespace for redis  (feedcache.db)
//	FEEDCACHE_NAMESPACE         mirror key namespace              (feed)
//	FEEDCACHE_CODEC             json | cbor | msgpack | proto     (cbor)
//	FEEDCACHE_MAX_DECODE_BYTES  decode size limit, 0 = unlimited
//	FEEDCACHE_REDIS_ADDR        host:port                         (127.0.0.1:6379)
//	FEEDCACHE_REDIS_DB          database number                   (0)
//	FEEDCACHE_MIRROR            none | ristretto | bigcache       (none)
//	FEEDCACHE_MIRROR_TTL        mirror entry lifetime             (10m)
//	FEEDCACHE_LOGGER            none | zap | logrus | slog        (none)
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/feedcache"
	"github.com/unkn0wn-root/feedcache/backend"
	"github.com/unkn0wn-root/feedcache/backend/file"
	"github.com/unkn0wn-root/feedcache/backend/memory"
	redisbackend "github.com/unkn0wn-root/feedcache/backend/redis"
	"github.com/unkn0wn-root/feedcache/backend/sqlite"
	"github.com/unkn0wn-root/feedcache/codec"
	"github.com/unkn0wn-root/feedcache/feed"
	logruslog "github.com/unkn0wn-root/feedcache/log/logrus"
	slogadapter "github.com/unkn0wn-root/feedcache/log/slog"
	zaplog "github.com/unkn0wn-root/feedcache/log/zap"
	"github.com/unkn0wn-root/feedcache/provider"
	"github.com/unkn0wn-root/feedcache/provider/bigcache"
	"github.com/unkn0wn-root/feedcache/provider/ristretto"
)

var ErrInvalid = errors.New("config: invalid value")

type Config struct {
	Backend        string        `env:"FEEDCACHE_BACKEND" envDefault:"sqlite"`
	Location       string        `env:"FEEDCACHE_LOCATION" envDefault:"feedcache.db"`
	Namespace      string        `env:"FEEDCACHE_NAMESPACE" envDefault:"feed"`
	Codec          string        `env:"FEEDCACHE_CODEC" envDefault:"cbor"`
	MaxDecodeBytes int           `env:"FEEDCACHE_MAX_DECODE_BYTES" envDefault:"0"`
	RedisAddr      string        `env:"FEEDCACHE_REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisDB        int           `env:"FEEDCACHE_REDIS_DB" envDefault:"0"`
	Mirror         string        `env:"FEEDCACHE_MIRROR" envDefault:"none"`
	MirrorTTL      time.Duration `env:"FEEDCACHE_MIRROR_TTL" envDefault:"10m"`
	Logger         string        `env:"FEEDCACHE_LOGGER" envDefault:"none"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Backend {
	case "memory", "file", "sqlite", "redis":
	default:
		return fmt.Errorf("%w: FEEDCACHE_BACKEND=%q", ErrInvalid, c.Backend)
	}
	switch c.Mirror {
	case "", "none", "ristretto", "bigcache":
	default:
		return fmt.Errorf("%w: FEEDCACHE_MIRROR=%q", ErrInvalid, c.Mirror)
	}
	switch c.Logger {
	case "", "none", "zap", "logrus", "slog":
	default:
		return fmt.Errorf("%w: FEEDCACHE_LOGGER=%q", ErrInvalid, c.Logger)
	}
	if _, err := SnapshotCodec(c.Codec, c.MaxDecodeBytes); err != nil {
		return err
	}
	if c.MaxDecodeBytes < 0 {
		return fmt.Errorf("%w: FEEDCACHE_MAX_DECODE_BYTES=%d", ErrInvalid, c.MaxDecodeBytes)
	}
	if c.MirrorTTL < 0 {
		return fmt.Errorf("%w: FEEDCACHE_MIRROR_TTL=%s", ErrInvalid, c.MirrorTTL)
	}
	return nil
}

// SnapshotCodec resolves a codec name. maxDecode > 0 wraps it in codec.Limit.
func SnapshotCodec(name string, maxDecode int) (codec.Codec[feed.Snapshot], error) {
	var c codec.Codec[feed.Snapshot]
	switch name {
	case "json":
		c = codec.JSON[feed.Snapshot]{}
	case "", "cbor":
		cb, err := codec.NewCBOR[feed.Snapshot](codec.CBOROptions{Deterministic: true})
		if err != nil {
			return nil, err
		}
		c = cb
	case "msgpack":
		c = codec.Msgpack[feed.Snapshot]{}
	case "proto":
		c = codec.Proto{}
	default:
		return nil, fmt.Errorf("%w: FEEDCACHE_CODEC=%q", ErrInvalid, name)
	}
	if maxDecode > 0 {
		c = codec.Limit[feed.Snapshot]{Inner: c, MaxDecode: maxDecode}
	}
	return c, nil
}

// Opener returns the backend opener selected by Backend.
func (c Config) Opener() (backend.OpenFunc, error) {
	sc, err := SnapshotCodec(c.Codec, c.MaxDecodeBytes)
	if err != nil {
		return nil, err
	}
	switch c.Backend {
	case "memory":
		return memory.Opener(), nil
	case "file":
		return file.Opener(file.WithCodec(sc), file.WithMkdirAll()), nil
	case "sqlite":
		return sqlite.Opener(sqlite.WithMkdirAll()), nil
	case "redis":
		return c.redisOpener(sc), nil
	}
	return nil, fmt.Errorf("%w: FEEDCACHE_BACKEND=%q", ErrInvalid, c.Backend)
}

// redisOpener dials a client per Open; the session owns and closes it.
func (c Config) redisOpener(sc codec.Codec[feed.Snapshot]) backend.OpenFunc {
	return func(ctx context.Context, location string) (backend.Session, error) {
		rdb := goredis.NewClient(&goredis.Options{Addr: c.RedisAddr, DB: c.RedisDB})
		s, err := redisbackend.Open(ctx, location, redisbackend.Config{
			Client:      rdb,
			Codec:       sc,
			CloseClient: true,
		})
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		return s, nil
	}
}

// NewMirror returns nil, nil when no mirror is configured.
func (c Config) NewMirror(ctx context.Context) (provider.Provider, error) {
	switch c.Mirror {
	case "", "none":
		return nil, nil
	case "ristretto":
		p, err := ristretto.New(ristretto.DefaultConfig())
		if err != nil {
			return nil, err
		}
		return p, nil
	case "bigcache":
		life := c.MirrorTTL
		if life == 0 {
			life = 10 * time.Minute
		}
		p, err := bigcache.New(ctx, bigcache.Config{LifeWindow: life})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: FEEDCACHE_MIRROR=%q", ErrInvalid, c.Mirror)
}

// NewLogger returns nil, nil for "none" (the store then logs nothing).
func (c Config) NewLogger() (feedcache.Logger, error) {
	switch c.Logger {
	case "", "none":
		return nil, nil
	case "zap":
		l, err := zap.NewProduction()
		if err != nil {
			return nil, err
		}
		return zaplog.ZapLogger{L: l.Named("feedcache")}, nil
	case "logrus":
		return logruslog.LogrusLogger{E: logrus.StandardLogger().WithField("component", "feedcache")}, nil
	case "slog":
		return slogadapter.Logger{L: slog.Default().With("component", "feedcache")}, nil
	}
	return nil, fmt.Errorf("%w: FEEDCACHE_LOGGER=%q", ErrInvalid, c.Logger)
}

// Open assembles a Store from cfg.
func Open(ctx context.Context, cfg Config) (feedcache.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	open, err := cfg.Opener()
	if err != nil {
		return nil, err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("config: logger: %w", err)
	}
	mirror, err := cfg.NewMirror(ctx)
	if err != nil {
		return nil, fmt.Errorf("config: mirror: %w", err)
	}
	mirrorCodec, err := SnapshotCodec(cfg.Codec, cfg.MaxDecodeBytes)
	if err != nil {
		return nil, err
	}

	st, err := feedcache.New(ctx, feedcache.Options{
		Open:        open,
		Location:    cfg.Location,
		Namespace:   cfg.Namespace,
		Logger:      logger,
		Mirror:      mirror,
		MirrorCodec: mirrorCodec,
		MirrorTTL:   cfg.MirrorTTL,
	})
	if err != nil {
		if mirror != nil {
			_ = mirror.Close(ctx)
		}
		return nil, err
	}
	return st, nil
}
