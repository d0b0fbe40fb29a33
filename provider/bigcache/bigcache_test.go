package bigcache

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestRequiresLifeWindow(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, Config{LifeWindow: time.Minute, HardMaxCacheSizeMB: 8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(ctx)

	want := []byte("frame")
	if ok, err := p.Set(ctx, "k", want, 0, 0); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	got, hit, err := p.Get(ctx, "k")
	if err != nil || !hit || !bytes.Equal(got, want) {
		t.Fatalf("Get: hit=%v err=%v got=%q", hit, err, got)
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, hit, err := p.Get(ctx, "k"); hit || err != nil {
		t.Fatalf("expected clean miss, hit=%v err=%v", hit, err)
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("Del missing: %v", err)
	}
}
