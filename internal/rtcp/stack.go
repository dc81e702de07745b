package rtcp

import (
	"context"
	"net"

	"github.com/buckyos/ndncore/internal/ndnerr"
)

// Stack listens on the RTCP stack port and dispatches inbound
// connections: a HelloStream preamble claims a pending ROpen wait, a
// Hello frame starts a new passive tunnel (spec §4.8).
type Stack struct {
	cfg      Config
	registry *Registry
	listener net.Listener
}

// Listen opens a TCP listener on addr (normally ":2980") and returns a
// Stack ready to Serve.
func Listen(addr string, cfg Config) (*Stack, error) {
	cfg = cfg.withDefaults()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, ndnerr.Wrap(ndnerr.ErrIoError, "rtcp: listen", err)
	}
	return &Stack{
		cfg:      cfg,
		registry: NewRegistry(cfg.ThisDevice, cfg.Metrics),
		listener: ln,
	}, nil
}

// Registry exposes the stack's tunnel registry so callers can look up
// an existing tunnel before dialing a new one.
func (s *Stack) Registry() *Registry { return s.registry }

// Addr returns the listener's bound address.
func (s *Stack) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until the listener closes or ctx is
// cancelled.
func (s *Stack) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return ndnerr.Wrap(ndnerr.ErrIoError, "rtcp: accept", err)
			}
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Stack) Close() error { return s.listener.Close() }

// handleConn reads exactly one introductory frame to decide whether
// the peer is claiming a pending ROpen stream or opening a new tunnel,
// mirroring the original source's single entry point for both inbound
// paths on the stack port.
func (s *Stack) handleConn(conn net.Conn) {
	pkg, err := ReadPackage(conn, true)
	if err != nil {
		s.cfg.Logger.Debug().Err(err).Msg("rtcp: inbound frame failed to parse, dropping")
		conn.Close()
		return
	}

	if pkg.IsHelloStream {
		if !s.registry.claimWait(pkg.SessionKey, conn) {
			s.cfg.Logger.Warn().Msg("rtcp: HelloStream claimed no pending waiter")
			conn.Close()
		}
		return
	}

	if pkg.Cmd != CmdHello {
		s.cfg.Logger.Warn().Str("cmd", pkg.Cmd.String()).Msg("rtcp: expected hello as first frame")
		conn.Close()
		return
	}
	hello, err := decodeBody[HelloBody](pkg.JSON)
	if err != nil {
		conn.Close()
		return
	}
	if hello.ToId != s.cfg.ThisDevice {
		s.cfg.Logger.Warn().Str("to_id", hello.ToId).Msg("rtcp: hello addressed to a different device")
		conn.Close()
		return
	}

	if _, err := accept(s.cfg, s.registry, conn, hello); err != nil {
		s.cfg.Logger.Warn().Err(err).Str("peer", hello.FromId).Msg("rtcp: accept tunnel failed")
	}
}

// Connect returns the active tunnel to peerId, dialing a new one over
// peerAddr:stackPort if none is open yet (spec §4.8's at-most-one
// invariant makes this the normal path every caller should use instead
// of calling Dial directly).
func (s *Stack) Connect(ctx context.Context, peerId, peerAddr string, stackPort uint16) (*RTcpTunnel, error) {
	if t, ok := s.registry.getTunnel(peerId); ok && t.State() == StateOpen {
		return t, nil
	}
	myPort := localPort(s.listener)
	return Dial(ctx, s.registry, s.cfg, peerId, peerAddr, stackPort, myPort)
}

func localPort(ln net.Listener) uint16 {
	tcpAddr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return uint16(tcpAddr.Port)
}
