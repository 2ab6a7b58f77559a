// Package redisconn speaks RESP to the monitored Redis server over a single
// persistent connection. The monitor, fault injector, and cache provider all
// build on this client rather than pulling in an external driver.
package redisconn

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// ErrConnection indicates the monitored server is unreachable or refused
// authentication.
var ErrConnection = errors.New("redis connection error")

// ErrClosed indicates the handle was closed and must be re-dialled.
var ErrClosed = errors.New("redis connection closed")

// Config holds connection parameters for the monitored server.
type Config struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TLS          bool
}

func (cfg *Config) normalise() {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
}

// Conn is a persistent connection handle. One request is in flight at a
// time; concurrent callers serialise on the internal mutex.
type Conn struct {
	cfg Config

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	closed bool
}

// Dial connects, authenticates, selects the database, and verifies the
// server with a PING. Auth and connectivity failures surface as
// ErrConnection.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: addr is required", ErrConnection)
	}
	cfg.normalise()

	dialer := net.Dialer{Timeout: deadlineOr(ctx, cfg.DialTimeout)}
	var (
		nc  net.Conn
		err error
	)
	if cfg.TLS {
		host := hostForTLS(cfg.Addr)
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
		nc, err = tls.DialWithDialer(&dialer, "tcp", cfg.Addr, tlsCfg)
	} else {
		nc, err = dialer.DialContext(ctx, "tcp", cfg.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, cfg.Addr, err)
	}

	c := &Conn{
		cfg:    cfg,
		conn:   nc,
		reader: bufio.NewReader(nc),
		writer: bufio.NewWriter(nc),
	}

	if err := c.bootstrap(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) bootstrap(ctx context.Context) error {
	if c.cfg.Password != "" {
		args := []string{"AUTH"}
		if c.cfg.Username != "" {
			args = append(args, c.cfg.Username, c.cfg.Password)
		} else {
			args = append(args, c.cfg.Password)
		}
		if _, err := c.Do(ctx, args...); err != nil {
			return fmt.Errorf("%w: auth failed: %v", ErrConnection, err)
		}
	}
	if c.cfg.DB > 0 {
		if _, err := c.Do(ctx, "SELECT", strconv.Itoa(c.cfg.DB)); err != nil {
			return fmt.Errorf("%w: select db %d: %v", ErrConnection, c.cfg.DB, err)
		}
	}
	reply, err := c.Do(ctx, "PING")
	if err != nil {
		return fmt.Errorf("%w: ping: %v", ErrConnection, err)
	}
	if reply.Type != ReplySimpleString || reply.Text() != "PONG" {
		return fmt.Errorf("%w: unexpected PING response %q", ErrConnection, reply.Text())
	}
	return nil
}

// Do sends a command and reads a single reply. I/O failures poison the
// handle; server error replies (e.g. OOM) leave it usable.
func (c *Conn) Do(ctx context.Context, args ...string) (Reply, error) {
	if len(args) == 0 {
		return Reply{}, fmt.Errorf("empty command")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Reply{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(deadlineOr(ctx, c.cfg.WriteTimeout))); err != nil {
		return Reply{}, c.fail(err)
	}
	if err := writeCommand(c.writer, args); err != nil {
		return Reply{}, c.fail(err)
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(deadlineOr(ctx, c.cfg.ReadTimeout))); err != nil {
		return Reply{}, c.fail(err)
	}
	reply, err := readReply(c.reader)
	if err != nil {
		if IsServerError(err) {
			return Reply{}, err
		}
		return Reply{}, c.fail(err)
	}
	return reply, nil
}

// fail marks the connection broken after an I/O error. Callers must
// re-dial.
func (c *Conn) fail(err error) error {
	c.closed = true
	_ = c.conn.Close()
	return fmt.Errorf("%w: %v", ErrConnection, err)
}

// Close releases the underlying socket. Safe to call twice.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Closed reports whether the handle is no longer usable.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Addr returns the configured server address.
func (c *Conn) Addr() string { return c.cfg.Addr }

// Ping round-trips a PING.
func (c *Conn) Ping(ctx context.Context) error {
	reply, err := c.Do(ctx, "PING")
	if err != nil {
		return err
	}
	if reply.Type != ReplySimpleString || reply.Text() != "PONG" {
		return fmt.Errorf("unexpected PING response %q", reply.Text())
	}
	return nil
}

// Info returns the raw INFO payload, optionally restricted to one section.
func (c *Conn) Info(ctx context.Context, section string) (string, error) {
	args := []string{"INFO"}
	if section != "" {
		args = append(args, section)
	}
	reply, err := c.Do(ctx, args...)
	if err != nil {
		return "", err
	}
	if reply.Type != ReplyBulkString {
		return "", fmt.Errorf("unexpected INFO reply type %q", reply.Type)
	}
	return reply.Text(), nil
}

// Set stores a value.
func (c *Conn) Set(ctx context.Context, key, value string) error {
	reply, err := c.Do(ctx, "SET", key, value)
	if err != nil {
		return err
	}
	if reply.Type != ReplySimpleString || reply.Text() != "OK" {
		return fmt.Errorf("unexpected SET response %q", reply.Text())
	}
	return nil
}

// Del removes keys and returns the number deleted.
func (c *Conn) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	args := append([]string{"DEL"}, keys...)
	reply, err := c.Do(ctx, args...)
	if err != nil {
		return 0, err
	}
	return reply.Int()
}

// Scan walks one SCAN page and returns the next cursor plus matching keys.
func (c *Conn) Scan(ctx context.Context, cursor uint64, match string, count int) (uint64, []string, error) {
	args := []string{"SCAN", strconv.FormatUint(cursor, 10)}
	if match != "" {
		args = append(args, "MATCH", match)
	}
	if count > 0 {
		args = append(args, "COUNT", strconv.Itoa(count))
	}
	reply, err := c.Do(ctx, args...)
	if err != nil {
		return 0, nil, err
	}
	if reply.Type != ReplyArray || len(reply.Elements) != 2 {
		return 0, nil, fmt.Errorf("unexpected SCAN reply shape")
	}
	next, err := strconv.ParseUint(reply.Elements[0].Text(), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("bad SCAN cursor %q: %w", reply.Elements[0].Text(), err)
	}
	return next, reply.Elements[1].Strings(), nil
}

// Keys runs the blocking KEYS command. Deliberately slow on large keyspaces;
// the fault injector relies on that.
func (c *Conn) Keys(ctx context.Context, pattern string) ([]string, error) {
	reply, err := c.Do(ctx, "KEYS", pattern)
	if err != nil {
		return nil, err
	}
	if reply.Type != ReplyArray {
		return nil, fmt.Errorf("unexpected KEYS reply type %q", reply.Type)
	}
	return reply.Strings(), nil
}

// DBSize returns the number of keys in the selected database.
func (c *Conn) DBSize(ctx context.Context) (int64, error) {
	reply, err := c.Do(ctx, "DBSIZE")
	if err != nil {
		return 0, err
	}
	return reply.Int()
}

func deadlineOr(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return time.Millisecond
		}
		if d == 0 || remaining < d {
			return remaining
		}
	}
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

func hostForTLS(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
