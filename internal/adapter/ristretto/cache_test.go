package ristretto

import (
	"context"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestSetGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "req-1", []byte(`{"status":"success"}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	c.Wait()

	data, ok, err := c.Get(ctx, "req-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected a hit after Wait")
	}
	if string(data) != `{"status":"success"}` {
		t.Errorf("data = %q", data)
	}
}

func TestGetMiss(t *testing.T) {
	c := newTestCache(t)

	_, ok, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected a miss")
	}
}

func TestDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "req-1", []byte("x"), time.Minute)
	c.Wait()
	if err := c.Delete(ctx, "req-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, ok, _ := c.Get(ctx, "req-1"); ok {
		t.Error("expected miss after delete")
	}
}
