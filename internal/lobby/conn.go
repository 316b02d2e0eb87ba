package lobby

import (
	"bufio"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/udisondev/autohost/internal/config"
	"github.com/udisondev/autohost/internal/protocol"
)

// Liveness thresholds.
const (
	pingAfterSendIdle = 5 * time.Second
	pingAfterRecvIdle = 28 * time.Second
	deadAfterConnect  = 30 * time.Second
	deadRecvIdle      = 60 * time.Second

	connectTimeout = 30 * time.Second
)

// ErrCertificate is returned when the lobby server presents a certificate
// that is neither CA-verified nor pinned.
var ErrCertificate = errors.New("untrusted lobby certificate")

// TrustStore answers and records certificate pinning decisions.
type TrustStore interface {
	Trusted(ctx context.Context, host, sha256hex string) (bool, error)
	Add(ctx context.Context, host, sha256hex string) error
}

// Conn drives one lobby TCP/TLS session: dialing, certificate pinning,
// inbound line delivery, outbound pacing and liveness pings.
type Conn struct {
	cfg   config.LobbyConfig
	trust TrustStore

	// oneShotTrust pins whatever certificate the next handshake presents
	// (--tls-cert-trust without an argument).
	oneShotTrust bool

	queue *SendQueue

	mu          sync.Mutex
	state       State
	conn        net.Conn
	host        string // current target, may change on REDIRECT
	port        int
	connectedAt time.Time
	lastSend    time.Time
	lastRecv    time.Time
	lastPing    time.Time
}

// NewConn prepares a connection manager. It does not dial.
func NewConn(cfg config.LobbyConfig, trust TrustStore, oneShotTrust bool) *Conn {
	return &Conn{
		cfg:          cfg,
		trust:        trust,
		oneShotTrust: oneShotTrust,
		queue:        NewSendQueue(cfg.SendRecordPeriod, cfg.MaxBytesSent, cfg.MaxLowPrioBytesSent),
		state:        Disconnected,
		host:         cfg.Host,
		port:         cfg.Port,
	}
}

// State returns the current session state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState advances the session state.
func (c *Conn) SetState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Retarget points the next dial at ip:port (REDIRECT handling) and tears
// down the current socket.
func (c *Conn) Retarget(ip string, port int) {
	c.mu.Lock()
	c.host = ip
	c.port = port
	c.mu.Unlock()
	c.Close()
}

// Target returns the current dial target.
func (c *Conn) Target() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host, c.port
}

// NextReconnectDelay rolls the delay before the next connect cycle. With
// an "a-b" configuration a fresh uniform integer is drawn each call.
func (c *Conn) NextReconnectDelay() (time.Duration, error) {
	min, max, err := config.ParseReconnectDelay(c.cfg.ReconnectDelay)
	if err != nil {
		return 0, err
	}
	if max > min {
		min += rand.IntN(max - min + 1)
	}
	return time.Duration(min) * time.Second, nil
}

// Connect dials the lobby and transitions Disconnected → Connecting →
// Connected. With TLS enabled the peer certificate must pass CA
// verification or pinning.
func (c *Conn) Connect(ctx context.Context) error {
	host, port := c.Target()
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	c.SetState(Connecting)

	d := net.Dialer{Timeout: connectTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.SetState(Disconnected)
		return fmt.Errorf("dialing lobby %s: %w", addr, err)
	}

	if c.cfg.TLS {
		tlsConn, err := c.handshake(ctx, conn, host)
		if err != nil {
			conn.Close()
			c.SetState(Disconnected)
			return err
		}
		conn = tlsConn
	}

	now := time.Now()
	c.mu.Lock()
	c.conn = conn
	c.connectedAt = now
	c.lastSend = now
	c.lastRecv = now
	c.lastPing = time.Time{}
	c.state = Connected
	c.mu.Unlock()
	slog.Info("lobby connected", "addr", addr, "tls", c.cfg.TLS)
	return nil
}

// handshake performs the TLS handshake with pinning semantics: accept if
// the chain verifies against the system CAs, if the leaf fingerprint is
// already trusted for this host, or if a one-shot trust is armed (which
// records the fingerprint).
func (c *Conn) handshake(ctx context.Context, raw net.Conn, host string) (*tls.Conn, error) {
	cfg := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true, // verification happens in VerifyConnection
		VerifyConnection: func(cs tls.ConnectionState) error {
			return c.verifyPeer(ctx, host, cs)
		},
	}
	tlsConn := tls.Client(raw, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		if errors.Is(err, ErrCertificate) {
			return nil, err
		}
		return nil, fmt.Errorf("tls handshake with %s: %w", host, err)
	}
	return tlsConn, nil
}

func (c *Conn) verifyPeer(ctx context.Context, host string, cs tls.ConnectionState) error {
	if len(cs.PeerCertificates) == 0 {
		return ErrCertificate
	}
	leaf := cs.PeerCertificates[0]

	if chainVerifies(host, cs.PeerCertificates) {
		return nil
	}

	sum := sha256.Sum256(leaf.Raw)
	fp := hex.EncodeToString(sum[:])

	trusted, err := c.trust.Trusted(ctx, host, fp)
	if err != nil {
		return fmt.Errorf("checking certificate trust: %w", err)
	}
	if trusted {
		return nil
	}
	if c.oneShotTrust {
		c.oneShotTrust = false
		if err := c.trust.Add(ctx, host, fp); err != nil {
			return fmt.Errorf("recording trusted certificate: %w", err)
		}
		slog.Warn("certificate trusted on first use", "host", host, "sha256", fp)
		return nil
	}
	slog.Error("lobby certificate rejected", "host", host, "sha256", fp)
	return ErrCertificate
}

func chainVerifies(host string, certs []*x509.Certificate) bool {
	if len(certs) == 0 {
		return false
	}
	roots, err := x509.SystemCertPool()
	if err != nil {
		return false
	}
	inter := x509.NewCertPool()
	for _, c := range certs[1:] {
		inter.AddCert(c)
	}
	_, err = certs[0].Verify(x509.VerifyOptions{
		DNSName:       host,
		Roots:         roots,
		Intermediates: inter,
	})
	return err == nil
}

// ReadLines delivers inbound protocol lines to handle until the socket
// closes or ctx ends. Runs on its own goroutine.
func (c *Conn) ReadLines(ctx context.Context, handle func(protocol.Command)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.mu.Lock()
		c.lastRecv = time.Now()
		c.mu.Unlock()
		handle(protocol.Parse(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading lobby stream: %w", err)
	}
	return nil
}

// Send enqueues a command for the next flush.
func (c *Conn) Send(cmd protocol.Command, p Priority) {
	c.queue.Push(cmd, p)
}

// Flush writes every command the rate budget allows right now, plus a
// liveness PING when due. Returns false when the session must be torn
// down (dead peer or write failure).
func (c *Conn) Flush(now time.Time) bool {
	c.mu.Lock()
	conn := c.conn
	connectedAt := c.connectedAt
	lastSend := c.lastSend
	lastRecv := c.lastRecv
	lastPing := c.lastPing
	c.mu.Unlock()
	if conn == nil {
		return false
	}

	if now.Sub(connectedAt) > deadAfterConnect && now.Sub(lastRecv) > deadRecvIdle {
		slog.Warn("lobby connection considered dead", "recv_idle", now.Sub(lastRecv))
		return false
	}

	if needPing(now, lastSend, lastRecv, lastPing) {
		c.queue.Push(protocol.New("PING"), Normal)
		c.mu.Lock()
		c.lastPing = now
		c.mu.Unlock()
	}

	for _, cmd := range c.queue.Tick(now) {
		line, err := cmd.Marshal()
		if err != nil {
			slog.Error("dropping unmarshalable command", "cmd", cmd.Name, "err", err)
			continue
		}
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			slog.Warn("lobby write failed", "err", err)
			return false
		}
		c.mu.Lock()
		c.lastSend = now
		c.mu.Unlock()
	}
	return true
}

// needPing applies the liveness rules: ping on 5s send idle or 28s recv
// idle, with a matching minimum gap since the previous ping.
func needPing(now, lastSend, lastRecv, lastPing time.Time) bool {
	sinceSend := now.Sub(lastSend)
	sinceRecv := now.Sub(lastRecv)
	sincePing := now.Sub(lastPing)
	if lastPing.IsZero() {
		sincePing = time.Duration(1<<62 - 1)
	}
	if sinceSend > pingAfterSendIdle && sincePing > pingAfterSendIdle {
		return true
	}
	if sinceRecv > pingAfterRecvIdle && sincePing > pingAfterRecvIdle {
		return true
	}
	return false
}

// Close tears down the socket and regresses to Disconnected.
func (c *Conn) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = Disconnected
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
