// Package registry provides optional etcd-backed server registration and
// discovery, so a client can find a pps-probe server by service name
// instead of a fixed host:port.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/ppsprobe/servers/"

// Config configures a Registry's etcd connection.
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
}

// Registry registers this server's control-connection address under
// etcd and keeps the registration alive via a leased key, and resolves
// other servers' addresses by service name for clients.
type Registry struct {
	client *clientv3.Client
	logger *zap.Logger

	mu      sync.Mutex
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
}

// New dials etcd at cfg.Endpoints.
func New(cfg Config, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect to etcd: %w", err)
	}
	return &Registry{client: client, logger: logger}, nil
}

// Register announces this server under serviceName with the given
// control-connection address, refreshed via an etcd lease for ttlSeconds.
// The lease is kept alive until ctx is cancelled or Close is called; the
// key then expires once the lease TTL runs out.
func (r *Registry) Register(ctx context.Context, serviceName, addr string, ttlSeconds int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lease, err := r.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return fmt.Errorf("registry: grant lease: %w", err)
	}
	r.leaseID = lease.ID

	key := keyPrefix + serviceName + "/" + addr
	if _, err := r.client.Put(ctx, key, addr, clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registry: put: %w", err)
	}

	keepAlive, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("registry: keepalive: %w", err)
	}

	kaCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.drainKeepAlive(kaCtx, keepAlive)

	r.logger.Info("registered service in etcd", zap.String("service", serviceName), zap.String("addr", addr))
	return nil
}

func (r *Registry) drainKeepAlive(ctx context.Context, ch <-chan *clientv3.LeaseKeepAliveResponse) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				r.logger.Warn("etcd lease keepalive channel closed")
				return
			}
		}
	}
}

// Resolve returns the registered addresses for serviceName. Clients use
// this for a one-shot lookup before dialing; it does not watch for
// subsequent changes.
func (r *Registry) Resolve(ctx context.Context, serviceName string) ([]string, error) {
	prefix := keyPrefix + serviceName + "/"
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: get %q: %w", prefix, err)
	}
	addrs := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		addrs = append(addrs, string(kv.Value))
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("registry: no servers registered for service %q", serviceName)
	}
	return addrs, nil
}

// Close stops the lease keepalive and closes the etcd client connection.
// It does not explicitly revoke the lease; the registration expires on
// its own once the keepalive stops.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	return r.client.Close()
}
