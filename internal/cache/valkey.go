package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redisops/sre-assistant/internal/redisconn"
)

// ValkeyProvider implements Provider backed by a Valkey/Redis-compatible
// server, reusing the shared RESP client. The provider holds one connection
// and re-dials transparently after I/O failures.
type ValkeyProvider struct {
	cfg redisconn.Config

	mu   sync.Mutex
	conn *redisconn.Conn
}

// NewValkeyProvider creates a Provider using the supplied configuration. It
// performs a ping against the target to fail fast when credentials or
// connectivity are incorrect.
func NewValkeyProvider(cfg redisconn.Config) (*ValkeyProvider, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeoutOf(cfg))
	defer cancel()

	conn, err := redisconn.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &ValkeyProvider{cfg: cfg, conn: conn}, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := p.withConn(ctx, func(conn *redisconn.Conn) error {
		reply, err := conn.Do(ctx, "GET", key)
		if err != nil {
			return err
		}
		switch reply.Type {
		case redisconn.ReplyNil:
			return ErrCacheMiss
		case redisconn.ReplyBulkString:
			payload = reply.Data
			return nil
		default:
			return fmt.Errorf("unexpected valkey reply type %q for GET", reply.Type)
		}
	})
	return payload, err
}

// Set stores bytes with the provided TTL.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.withConn(ctx, func(conn *redisconn.Conn) error {
		args := []string{"SET", key, string(value)}
		if ttl > 0 {
			args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
		}
		reply, err := conn.Do(ctx, args...)
		if err != nil {
			return err
		}
		if reply.Type != redisconn.ReplySimpleString || reply.Text() != "OK" {
			return fmt.Errorf("unexpected SET response: %s", reply.Text())
		}
		return nil
	})
}

// Del removes a key from the cache.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	return p.withConn(ctx, func(conn *redisconn.Conn) error {
		_, err := conn.Do(ctx, "DEL", key)
		return err
	})
}

// Close closes the underlying connection.
func (p *ValkeyProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// withConn runs fn against a live connection, re-dialling once if the
// previous handle went bad.
func (p *ValkeyProvider) withConn(ctx context.Context, fn func(*redisconn.Conn) error) error {
	conn, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	err = fn(conn)
	if err != nil && errors.Is(err, redisconn.ErrConnection) {
		conn, dialErr := p.redial(ctx)
		if dialErr != nil {
			return err
		}
		return fn(conn)
	}
	return err
}

func (p *ValkeyProvider) acquire(ctx context.Context) (*redisconn.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil && !p.conn.Closed() {
		return p.conn, nil
	}
	conn, err := redisconn.Dial(ctx, p.cfg)
	if err != nil {
		return nil, err
	}
	p.conn = conn
	return conn, nil
}

func (p *ValkeyProvider) redial(ctx context.Context) (*redisconn.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		_ = p.conn.Close()
	}
	conn, err := redisconn.Dial(ctx, p.cfg)
	if err != nil {
		p.conn = nil
		return nil, err
	}
	p.conn = conn
	return conn, nil
}

func dialTimeoutOf(cfg redisconn.Config) time.Duration {
	if cfg.DialTimeout > 0 {
		return cfg.DialTimeout
	}
	return 2 * time.Second
}
