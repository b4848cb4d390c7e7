package ovpn

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	tls "github.com/refraction-networking/utls"
)

// controlCryptoCipherSuites is the TLS 1.3/1.2 preference order: TLS 1.3
// AEAD suites first, then TLS 1.2 ECDHE suites (AES-256-GCM,
// CHACHA20-POLY1305, AES-128-GCM, then one AES-CBC suite). No DHE suites
// are listed.
var controlCryptoCipherSuites = []uint16{
	tls.TLS_AES_256_GCM_SHA384,
	tls.TLS_CHACHA20_POLY1305_SHA256,
	tls.TLS_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
}

// controlCryptoCurvePreferences is the supported-groups list. uTLS's
// FakeFFDHE identifiers stand in for the ffdhe2048 and ffdhe3072
// finite-field groups, which crypto/tls's CurveID type doesn't name.
// x448 and ffdhe4096..8192 are not listed.
var controlCryptoCurvePreferences = []tls.CurveID{
	tls.X25519,
	tls.CurveP256,
	tls.CurveP521,
	tls.CurveP384,
	tls.FakeFFDHE2048,
	tls.FakeFFDHE3072,
}

// controlCryptoConfig configures the TLS client engine, per spec §4.8.
// Certificate/PEM parsing is out of scope (spec §1): ClientCertificates
// is already-parsed material the caller assembled.
type controlCryptoConfig struct {
	ServerName              string
	ClientCertificates      []tls.Certificate
	UseKeyMaterialExporters bool
	InsecureSkipVerify      bool
}

// pipeAddr is a placeholder net.Addr for the in-memory control-channel
// byte pipe; there is no real socket address to report.
type pipeAddr struct{}

func (pipeAddr) Network() string { return "ovpn-control" }
func (pipeAddr) String() string  { return "ovpn-control-channel" }

// pipeConn adapts the control channel's ciphertext pipes to net.Conn so
// a uTLS client can be driven over them without owning a real socket.
// Reads/writes go through a condition variable rather than a channel so
// arbitrarily-sized TLS record reads/writes compose cleanly with the
// byte-pipe's own buffering.
type pipeConn struct {
	mu     sync.Mutex
	cond   *sync.Cond
	in     bytePipe // ciphertext fed in from the socket, read by the TLS engine
	out    bytePipe // ciphertext the TLS engine wrote, drained for the socket
	closed bool
}

func newPipeConn() *pipeConn {
	c := &pipeConn{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *pipeConn) Read(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.in.available() == 0 && !c.closed {
		c.cond.Wait()
	}
	if c.in.available() == 0 {
		return 0, io.EOF
	}
	return c.in.readBytes(b), nil
}

func (c *pipeConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	n := c.out.writeBytes(b)
	c.mu.Unlock()
	c.cond.Broadcast()
	return n, nil
}

// feedCiphertext makes bytes received from the socket visible to the
// TLS engine's Read side.
func (c *pipeConn) feedCiphertext(b []byte) {
	c.mu.Lock()
	c.in.writeBytes(b)
	c.mu.Unlock()
	c.cond.Broadcast()
}

// drainCiphertext copies up to len(dst) bytes the TLS engine wrote,
// ready to hand to the control channel for framing onto the wire.
func (c *pipeConn) drainCiphertext(dst []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.readBytes(dst)
}

func (c *pipeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cond.Broadcast()
	return nil
}

func (c *pipeConn) LocalAddr() net.Addr                { return pipeAddr{} }
func (c *pipeConn) RemoteAddr() net.Addr               { return pipeAddr{} }
func (c *pipeConn) SetDeadline(t time.Time) error      { return nil }
func (c *pipeConn) SetReadDeadline(t time.Time) error   { return nil }
func (c *pipeConn) SetWriteDeadline(t time.Time) error  { return nil }

// controlCrypto drives a uTLS client handshake over the control
// channel's reliable byte stream, per spec §4.8. The handshake and the
// TLS record reader run on background goroutines (uTLS, like
// crypto/tls, assumes a blocking net.Conn); the orchestrator still only
// suspends at socket read/write (spec §5) — these goroutines are
// internal plumbing bridging a blocking library to that model, not new
// caller-visible suspension points.
type controlCrypto struct {
	logger log.Logger
	conn   *pipeConn
	uconn  *tls.UConn

	writeCh       chan []byte
	mu            sync.Mutex
	appIn         bytePipe
	handshakeDone chan struct{}
	handshakeErr  error
}

func newControlCrypto(logger log.Logger, cfg controlCryptoConfig) *controlCrypto {
	conn := newPipeConn()
	tlsConfig := &tls.Config{
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Certificates:       cfg.ClientCertificates,
		MinVersion:         tls.VersionTLS12,
		MaxVersion:         tls.VersionTLS13,
		CipherSuites:       controlCryptoCipherSuites,
		CurvePreferences:   controlCryptoCurvePreferences,
	}
	uconn := tls.UClient(conn, tlsConfig, tls.HelloGolang)
	return &controlCrypto{
		logger:        logger,
		conn:          conn,
		uconn:         uconn,
		writeCh:       make(chan []byte, 16),
		handshakeDone: make(chan struct{}),
	}
}

// connect starts the background handshake; its progress from here on is
// driven entirely by the orchestrator moving ciphertext between this
// engine and the control channel via readOutput/writeOutput.
func (cc *controlCrypto) connect() {
	go cc.run()
}

func (cc *controlCrypto) run() {
	err := cc.uconn.Handshake()
	cc.handshakeErr = err
	close(cc.handshakeDone)
	if err != nil {
		level.Error(cc.logger).Log("msg", "control channel tls handshake failed", "err", err)
		return
	}
	level.Debug(cc.logger).Log("msg", "control channel tls handshake complete")
	go cc.readLoop()
	for data := range cc.writeCh {
		if _, err := cc.uconn.Write(data); err != nil {
			level.Error(cc.logger).Log("msg", "control channel tls write failed", "err", err)
			return
		}
	}
}

func (cc *controlCrypto) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := cc.uconn.Read(buf)
		if n > 0 {
			cc.mu.Lock()
			cc.appIn.writeBytes(buf[:n])
			cc.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// handshakeComplete reports whether the background handshake has
// finished, returning its error (nil on success).
func (cc *controlCrypto) handshakeComplete() (bool, error) {
	select {
	case <-cc.handshakeDone:
		return true, cc.handshakeErr
	default:
		return false, nil
	}
}

// writeInput queues plaintext for the TLS engine to encrypt; callers
// must wait for handshakeComplete before calling this.
func (cc *controlCrypto) writeInput(plaintext []byte) {
	cp := append([]byte(nil), plaintext...)
	cc.writeCh <- cp
}

// readOutput drains on-wire TLS ciphertext the engine has produced.
func (cc *controlCrypto) readOutput(buf []byte) int {
	return cc.conn.drainCiphertext(buf)
}

// writeOutput hands the engine ciphertext received from the socket.
func (cc *controlCrypto) writeOutput(ciphertext []byte) {
	cc.conn.feedCiphertext(ciphertext)
}

// readInput drains decrypted TLS application bytes.
func (cc *controlCrypto) readInput(buf []byte) int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.appIn.readBytes(buf)
}

// exporter returns a TLSExporter bound to this handshake's session, for
// the EKM key-derivation path (spec §4.9).
func (cc *controlCrypto) exporter() TLSExporter {
	return func(label string, context []byte, length int) ([]byte, error) {
		return cc.uconn.ExportKeyingMaterial(label, context, length)
	}
}

func (cc *controlCrypto) close() {
	close(cc.writeCh)
	cc.conn.Close()
}
