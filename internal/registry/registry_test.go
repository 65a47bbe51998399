package registry

import (
	"context"
	"testing"
	"time"
)

func TestRegisterFailsFastWhenEtcdUnreachable(t *testing.T) {
	r, err := New(Config{Endpoints: []string{"127.0.0.1:2"}, DialTimeout: 200 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := r.Register(ctx, "ppsprobe-server", "127.0.0.1:9000", 10); err == nil {
		t.Fatal("expected Register to fail when etcd is unreachable")
	}
}

func TestResolveFailsFastWhenEtcdUnreachable(t *testing.T) {
	r, err := New(Config{Endpoints: []string{"127.0.0.1:2"}, DialTimeout: 200 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if _, err := r.Resolve(ctx, "ppsprobe-server"); err == nil {
		t.Fatal("expected Resolve to fail when etcd is unreachable")
	}
}
