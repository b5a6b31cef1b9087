// Package transport owns the pooled outbound SMTP connection used to hand
// rendered messages to the relay.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// settingsLookupTimeout bounds the persisted-settings fetch at startup and on
// refresh. The fallback below means this never blocks process startup.
const settingsLookupTimeout = 2 * time.Second

// Config holds the relay connection settings.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
}

// ConfigProvider supplies persisted transport settings. Implementations must
// honor the context deadline; the manager falls back to environment defaults
// when the lookup fails or times out.
type ConfigProvider interface {
	TransportConfig(ctx context.Context) (Config, error)
}

// Message is one rendered outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Manager owns a small bounded pool of relay connections. Workers share one
// manager; Refresh rebuilds the pool when settings change.
type Manager struct {
	provider ConfigProvider
	fallback Config
	logger   *slog.Logger
	poolSize int

	mu     sync.Mutex
	dialer *gomail.Dialer
	cfg    Config
	gen    int
	idle   chan pooledConn
	sem    chan struct{}
}

type pooledConn struct {
	sc  gomail.SendCloser
	gen int
}

// NewManager resolves transport settings (persisted store first, environment
// fallback after the bounded lookup) and prepares the connection pool. No
// connection is dialed until the first send.
func NewManager(provider ConfigProvider, fallback Config, poolSize int, logger *slog.Logger) *Manager {
	if poolSize <= 0 {
		poolSize = 2
	}
	m := &Manager{
		provider: provider,
		fallback: fallback,
		logger:   logger,
		poolSize: poolSize,
		idle:     make(chan pooledConn, poolSize),
		sem:      make(chan struct{}, poolSize),
	}
	m.configure(context.Background())
	return m
}

// configure resolves settings and installs a fresh dialer. Previously idle
// connections belong to an older generation and are closed on return.
func (m *Manager) configure(ctx context.Context) {
	cfg := m.resolveConfig(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	m.dialer = gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	m.gen++

	for {
		select {
		case conn := <-m.idle:
			conn.sc.Close()
		default:
			m.logger.Info("transport configured", "host", cfg.Host, "port", cfg.Port, "pool_size", m.poolSize)
			return
		}
	}
}

func (m *Manager) resolveConfig(ctx context.Context) Config {
	if m.provider == nil {
		return m.fallback
	}

	lookupCtx, cancel := context.WithTimeout(ctx, settingsLookupTimeout)
	defer cancel()

	cfg, err := m.provider.TransportConfig(lookupCtx)
	if err != nil {
		m.logger.Warn("transport settings unavailable, using environment defaults", "error", err)
		return m.fallback
	}
	return cfg
}

// Refresh rebuilds the pool from current settings. Invoked by the settings
// store on update, not polled.
func (m *Manager) Refresh(ctx context.Context) {
	m.configure(ctx)
}

// Send hands one message to the relay over a pooled connection and returns
// the generated message ID. Errors are classified as *TransientError or
// *PermanentError for the retry path.
func (m *Manager) Send(ctx context.Context, msg Message) (string, error) {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return "", &TransientError{Err: ctx.Err()}
	}
	defer func() { <-m.sem }()

	conn, err := m.acquire(ctx)
	if err != nil {
		return "", classify(err)
	}

	m.mu.Lock()
	from, fromName := m.cfg.FromAddress, m.cfg.FromName
	m.mu.Unlock()

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), mailDomain(from))

	gm := gomail.NewMessage()
	gm.SetAddressHeader("From", from, fromName)
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetHeader("Message-Id", messageID)
	gm.SetBody("text/html", msg.Body)

	done := make(chan error, 1)
	go func() { done <- gomail.Send(conn.sc, gm) }()

	select {
	case <-ctx.Done():
		// The in-flight goroutine still holds the socket; closing it
		// unblocks the write. The connection is not returned to the pool.
		conn.sc.Close()
		return "", &TransientError{Err: ctx.Err()}
	case err = <-done:
	}

	if err != nil {
		conn.sc.Close()
		return "", classify(err)
	}

	m.release(conn)
	return messageID, nil
}

// acquire takes an idle connection from the current generation or dials a new
// one. The caller already holds a pool slot.
func (m *Manager) acquire(ctx context.Context) (pooledConn, error) {
	m.mu.Lock()
	dialer, gen := m.dialer, m.gen
	m.mu.Unlock()

	for {
		select {
		case conn := <-m.idle:
			if conn.gen != gen {
				conn.sc.Close()
				continue
			}
			return conn, nil
		default:
		}
		break
	}

	type dialResult struct {
		sc  gomail.SendCloser
		err error
	}
	res := make(chan dialResult, 1)
	go func() {
		sc, err := dialer.Dial()
		res <- dialResult{sc: sc, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-res; r.sc != nil {
				r.sc.Close()
			}
		}()
		return pooledConn{}, ctx.Err()
	case r := <-res:
		if r.err != nil {
			return pooledConn{}, r.err
		}
		return pooledConn{sc: r.sc, gen: gen}, nil
	}
}

func (m *Manager) release(conn pooledConn) {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()

	if conn.gen != gen {
		conn.sc.Close()
		return
	}
	select {
	case m.idle <- conn:
	default:
		conn.sc.Close()
	}
}

// Verify probes relay reachability by dialing and closing a connection. It is
// a health check, not a precondition for sends.
func (m *Manager) Verify(ctx context.Context) error {
	m.mu.Lock()
	dialer := m.dialer
	m.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		sc, err := dialer.Dial()
		if err == nil {
			sc.Close()
		}
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("verifying transport: %w", err)
		}
		return nil
	}
}

// Host returns the currently configured relay host, for health reporting.
func (m *Manager) Host() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Host
}

func mailDomain(from string) string {
	for i := len(from) - 1; i >= 0; i-- {
		if from[i] == '@' {
			return from[i+1:]
		}
	}
	return "localhost"
}
