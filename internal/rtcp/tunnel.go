package rtcp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/buckyos/ndncore/internal/ndnerr"
	"github.com/buckyos/ndncore/internal/ndnmetrics"
)

// State is a tunnel's position in spec §4.8's state machine:
// Dialing -> Opening -> Open -> Closed.
type State int

const (
	StateDialing State = iota
	StateOpening
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDialing:
		return "dialing"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Tunnel abstracts a stream-opening channel to a peer device: either a
// direct TCP dial when reachable, or an RTCP reverse tunnel when NAT
// prevents one (spec §4.8; Design Notes §9 generalizes the teacher's
// cluster.NodeClient shape onto this).
type Tunnel interface {
	OpenStream(ctx context.Context, destPort uint16) (net.Conn, error)
	Close() error
}

// DirectTunnel dials the peer directly, used when open_stream's
// can_direct is true (spec §4.8).
type DirectTunnel struct {
	PeerAddr string
}

func (d DirectTunnel) OpenStream(ctx context.Context, destPort uint16) (net.Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(d.PeerAddr, strconv.Itoa(int(destPort))))
	if err != nil {
		return nil, ndnerr.Wrap(ndnerr.ErrIoError, "rtcp: direct dial", err)
	}
	return conn, nil
}

func (DirectTunnel) Close() error { return nil }

// Config configures timeouts and identity shared by every tunnel a
// Registry manages.
type Config struct {
	ThisDevice string
	// PingInterval is the keepalive cadence for Open tunnels (spec §5,
	// default 15s).
	PingInterval time.Duration
	// ROpenTimeout bounds OpenStream's wait for a back-dialed stream
	// (spec §5: "ROpen wait: 5 s").
	ROpenTimeout time.Duration
	// DialTimeout bounds the initial TCP connect + Hello/HelloAck
	// handshake (spec §5: "Tunnel open: 10 s").
	DialTimeout time.Duration
	Metrics     *ndnmetrics.Metrics
	Logger      zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
	if c.ROpenTimeout <= 0 {
		c.ROpenTimeout = 5 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}

// RTcpTunnel is one established RTCP tunnel connection: a persistent
// TCP socket over which Ping/Pong keepalives and ROpen/ROpenResp
// stream requests flow (spec §4.8), adapted from the original source's
// RTcpTunnel with an explicit State machine and a registry handle
// instead of global maps.
type RTcpTunnel struct {
	cfg      Config
	registry *Registry
	peerId   string
	peerAddr string // host, no port: the connected socket's remote IP
	stackPort uint16
	canDirect bool

	conn net.Conn

	writeMu sync.Mutex
	seq     uint32

	state   atomic.Int32
	lastPong atomic.Int64

	pendingMu sync.Mutex
	pending   map[uint32]chan ROpenRespBody

	closeOnce sync.Once
	done      chan struct{}
}

// Dial establishes an outbound tunnel to peerAddr:stackPort, performs
// the Hello/HelloAck handshake, and registers the tunnel against
// peerId (closing any prior tunnel for that peer per spec §8's
// "Tunnel at-most-one").
func Dial(ctx context.Context, registry *Registry, cfg Config, peerId, peerAddr string, stackPort uint16, myPort uint16) (*RTcpTunnel, error) {
	cfg = cfg.withDefaults()
	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(peerAddr, strconv.Itoa(int(stackPort))))
	if err != nil {
		if cfg.Metrics != nil {
			cfg.Metrics.RecordTunnelDial("error")
		}
		return nil, ndnerr.Wrap(ndnerr.ErrIoError, "rtcp: dial tunnel", err)
	}

	t := newTunnel(cfg, registry, peerId, peerAddr, stackPort, conn)
	t.state.Store(int32(StateDialing))

	if err := WritePackage(conn, CmdHello, 0, HelloBody{FromId: cfg.ThisDevice, ToId: peerId, MyPort: myPort}); err != nil {
		conn.Close()
		return nil, err
	}
	t.state.Store(int32(StateOpening))

	pkg, err := ReadPackage(conn, false)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if pkg.Cmd != CmdHelloAck {
		conn.Close()
		return nil, ndnerr.Wrap(ndnerr.ErrParseError, fmt.Sprintf("rtcp: expected hello_ack, got cmd %s", pkg.Cmd), nil)
	}
	ack, err := decodeBody[HelloAckBody](pkg.JSON)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if !ack.TestResult {
		conn.Close()
		if cfg.Metrics != nil {
			cfg.Metrics.RecordTunnelDial("rejected")
		}
		return nil, ndnerr.Wrap(ndnerr.ErrPermissionDenied, "rtcp: peer rejected hello", nil)
	}

	t.markOpen()
	registry.setTunnel(peerId, t)
	go t.run()
	go t.pingLoop()
	if cfg.Metrics != nil {
		cfg.Metrics.RecordTunnelDial("ok")
	}
	return t, nil
}

// accept builds a passive tunnel from an inbound connection that just
// sent a Hello frame, replies HelloAck, and registers it.
func accept(cfg Config, registry *Registry, conn net.Conn, hello HelloBody) (*RTcpTunnel, error) {
	cfg = cfg.withDefaults()
	t := newTunnel(cfg, registry, hello.FromId, remoteHost(conn), DefaultStackPort, conn)
	t.state.Store(int32(StateOpening))

	if err := WritePackage(conn, CmdHelloAck, 0, HelloAckBody{TestResult: true}); err != nil {
		conn.Close()
		return nil, err
	}

	t.markOpen()
	registry.setTunnel(hello.FromId, t)
	go t.run()
	go t.pingLoop()
	return t, nil
}

func newTunnel(cfg Config, registry *Registry, peerId, peerAddr string, stackPort uint16, conn net.Conn) *RTcpTunnel {
	t := &RTcpTunnel{
		cfg:       cfg,
		registry:  registry,
		peerId:    peerId,
		peerAddr:  peerAddr,
		stackPort: stackPort,
		conn:      conn,
		pending:   make(map[uint32]chan ROpenRespBody),
		done:      make(chan struct{}),
	}
	return t
}

func (t *RTcpTunnel) markOpen() {
	t.state.Store(int32(StateOpen))
	t.lastPong.Store(time.Now().UnixNano())
}

// State returns the tunnel's current lifecycle state.
func (t *RTcpTunnel) State() State { return State(t.state.Load()) }

func remoteHost(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

// run reads frames until the connection closes or a frame fails to
// parse, dispatching each to processPackage (spec §4.8's per-tunnel
// read loop).
func (t *RTcpTunnel) run() {
	defer t.Close()
	for {
		pkg, err := ReadPackage(t.conn, false)
		if err != nil {
			if t.cfg.Logger.GetLevel() <= zerolog.DebugLevel {
				t.cfg.Logger.Debug().Err(err).Str("peer", t.peerId).Msg("rtcp: read loop ended")
			}
			return
		}
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.RecordFrame("recv", pkg.Cmd.String())
		}
		if err := t.processPackage(pkg); err != nil {
			t.cfg.Logger.Warn().Err(err).Str("peer", t.peerId).Msg("rtcp: process frame")
			return
		}
	}
}

func (t *RTcpTunnel) processPackage(pkg Package) error {
	switch pkg.Cmd {
	case CmdPing:
		return t.writePackage(CmdPong, pkg.Seq, PongBody{Timestamp: time.Now().Unix()})
	case CmdPong:
		t.lastPong.Store(time.Now().UnixNano())
		return nil
	case CmdROpen:
		body, err := decodeBody[ROpenBody](pkg.JSON)
		if err != nil {
			return err
		}
		go t.handleROpen(pkg.Seq, body)
		return nil
	case CmdROpenResp:
		body, err := decodeBody[ROpenRespBody](pkg.JSON)
		if err != nil {
			return err
		}
		t.pendingMu.Lock()
		ch, ok := t.pending[pkg.Seq]
		t.pendingMu.Unlock()
		if ok {
			ch <- body
		}
		return nil
	default:
		return ndnerr.Wrap(ndnerr.ErrParseError, fmt.Sprintf("rtcp: unsupported cmd %d", pkg.Cmd), nil)
	}
}

// handleROpen is the peer side of open_stream (spec §4.8 scenario 6):
// back-dial the requested local port, then open a fresh TCP connection
// to the requester (the peer_addr of this already-established tunnel,
// on its stack port) and claim it with HelloStream(streamid), finally
// splicing the two connections together.
func (t *RTcpTunnel) handleROpen(seq uint32, body ROpenBody) {
	if t.cfg.Metrics != nil {
		defer func() { t.cfg.Metrics.RecordROpen("handled") }()
	}

	localAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(body.DestPort)))
	localConn, err := net.DialTimeout("tcp", localAddr, 5*time.Second)
	if err != nil {
		t.cfg.Logger.Warn().Err(err).Str("addr", localAddr).Msg("rtcp: ropen local dial failed")
		_ = t.writePackage(CmdROpenResp, seq, ROpenRespBody{Result: ROpenDestUnreachable})
		return
	}

	backAddr := net.JoinHostPort(t.peerAddr, strconv.Itoa(int(t.stackPort)))
	backConn, err := net.DialTimeout("tcp", backAddr, 5*time.Second)
	if err != nil {
		t.cfg.Logger.Warn().Err(err).Str("addr", backAddr).Msg("rtcp: ropen back-connect failed")
		localConn.Close()
		_ = t.writePackage(CmdROpenResp, seq, ROpenRespBody{Result: ROpenBackConnectFailed})
		return
	}

	if err := t.writePackage(CmdROpenResp, seq, ROpenRespBody{Result: ROpenOK}); err != nil {
		localConn.Close()
		backConn.Close()
		return
	}

	if err := WriteHelloStream(backConn, body.StreamId); err != nil {
		t.cfg.Logger.Warn().Err(err).Msg("rtcp: write HelloStream")
		localConn.Close()
		backConn.Close()
		return
	}

	spliceBidirectional(localConn, backConn)
}

// spliceBidirectional copies bytes between a and b until either side
// closes, the Go equivalent of tokio::io::copy_bidirectional in the
// original source's ROpen handling.
func spliceBidirectional(a, b net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = ioCopy(a, b)
		a.Close()
	}()
	go func() {
		defer wg.Done()
		_, _ = ioCopy(b, a)
		b.Close()
	}()
	wg.Wait()
}

// writePackage serializes frame writes against concurrent
// pingLoop/OpenStream/handleROpen senders.
func (t *RTcpTunnel) writePackage(cmd Cmd, seq uint32, body any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	err := WritePackage(t.conn, cmd, seq, body)
	if err == nil && t.cfg.Metrics != nil {
		t.cfg.Metrics.RecordFrame("send", cmd.String())
	}
	return err
}

func (t *RTcpTunnel) nextSeq() uint32 {
	return atomic.AddUint32(&t.seq, 1)
}

// pingLoop emits Ping frames on cfg.PingInterval and closes the tunnel
// if no Pong arrives within 3x the interval (spec §4.8: "failing to
// receive Pong within 3x the Ping interval transitions to Closed").
func (t *RTcpTunnel) pingLoop() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.writePackage(CmdPing, t.nextSeq(), PingBody{Timestamp: time.Now().Unix()}); err != nil {
				t.Close()
				return
			}
			last := time.Unix(0, t.lastPong.Load())
			if time.Since(last) > 3*t.cfg.PingInterval {
				t.cfg.Logger.Warn().Str("peer", t.peerId).Msg("rtcp: pong timeout, closing tunnel")
				t.Close()
				return
			}
		}
	}
}

// OpenStream requests a stream to dest_port on the peer this tunnel is
// connected to, per spec §4.8's open_stream: direct dial when
// canDirect, otherwise ROpen-and-wait (5s timeout).
func (t *RTcpTunnel) OpenStream(ctx context.Context, destPort uint16) (net.Conn, error) {
	if t.State() != StateOpen {
		return nil, ndnerr.Wrap(ndnerr.ErrIoError, fmt.Sprintf("rtcp: tunnel to %s is not open (state %s)", t.peerId, t.State()), nil)
	}
	if t.canDirect {
		return DirectTunnel{PeerAddr: t.peerAddr}.OpenStream(ctx, destPort)
	}

	sessionKey := newSessionKey()
	waitCh := t.registry.registerWait(sessionKey)
	defer t.registry.unregisterWait(sessionKey)

	seq := t.nextSeq()
	respCh := make(chan ROpenRespBody, 1)
	t.pendingMu.Lock()
	t.pending[seq] = respCh
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, seq)
		t.pendingMu.Unlock()
	}()

	if err := t.writePackage(CmdROpen, seq, ROpenBody{StreamId: sessionKey, DestPort: destPort}); err != nil {
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.RecordROpen("send_error")
		}
		return nil, err
	}

	timeout := time.NewTimer(t.cfg.ROpenTimeout)
	defer timeout.Stop()

	select {
	case resp := <-respCh:
		if resp.Result != ROpenOK {
			if t.cfg.Metrics != nil {
				t.cfg.Metrics.RecordROpen("peer_refused")
			}
			return nil, &ndnerr.PeerRefused{ResultCode: resp.Result}
		}
	case <-timeout.C:
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.RecordROpen("timeout")
		}
		return nil, ndnerr.Wrap(ndnerr.ErrTimeout, "rtcp: timed out waiting for ropen_resp", nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case conn := <-waitCh:
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.RecordROpen("ok")
		}
		return conn, nil
	case <-time.After(t.cfg.ROpenTimeout):
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.RecordROpen("timeout")
		}
		return nil, ndnerr.Wrap(ndnerr.ErrTimeout, "rtcp: timed out waiting for HelloStream back-connection", nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts down the tunnel's connection and deregisters it from the
// registry, exactly once.
func (t *RTcpTunnel) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.state.Store(int32(StateClosed))
		close(t.done)
		err = t.conn.Close()
		t.registry.removeTunnel(t.peerId, t)
	})
	return err
}
