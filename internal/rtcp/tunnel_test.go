package rtcp_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/ndncore/internal/rtcp"
)

func startStack(t *testing.T, device string) *rtcp.Stack {
	t.Helper()
	stack, err := rtcp.Listen("127.0.0.1:0", rtcp.Config{
		ThisDevice:   device,
		PingInterval: 50 * time.Millisecond,
		ROpenTimeout: 2 * time.Second,
		DialTimeout:  2 * time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		stack.Close()
	})
	go stack.Serve(ctx)
	return stack
}

func TestDialEstablishesOpenTunnel(t *testing.T) {
	server := startStack(t, "server-device")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	serverAddr := server.Addr().(*net.TCPAddr)
	registry := rtcp.NewRegistry("client-device", nil)
	tunnel, err := rtcp.Dial(ctx, registry, rtcp.Config{
		ThisDevice:   "client-device",
		PingInterval: 50 * time.Millisecond,
	}, "server-device", "127.0.0.1", uint16(serverAddr.Port), 0)
	require.NoError(t, err)
	defer tunnel.Close()

	assert.Equal(t, rtcp.StateOpen, tunnel.State())
}

// TestOpenStreamViaROpen exercises the full reverse-tunnel path: the
// client dials the server's stack port, asks the server (over that
// tunnel) to connect to a listener on the server's own host, and the
// server satisfies the request by back-dialing the
// client's own stack port and claiming it with HelloStream (spec
// §4.8's ROpen flow). The back-dial always targets the well-known
// stack port rather than a negotiated one, so the client in this test
// must itself run a Stack bound to rtcp.DefaultStackPort.
func TestOpenStreamViaROpen(t *testing.T) {
	server := startStack(t, "server-device")
	serverAddr := server.Addr().(*net.TCPAddr)

	client, err := rtcp.Listen(fmt.Sprintf("127.0.0.1:%d", rtcp.DefaultStackPort), rtcp.Config{
		ThisDevice:   "client-device",
		PingInterval: 50 * time.Millisecond,
		ROpenTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	clientCtx, clientCancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		clientCancel()
		client.Close()
	})
	go client.Serve(clientCtx)

	// A local echo listener that the server's ROpen handler dials (both
	// sides share 127.0.0.1 here).
	echoLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer echoLn.Close()
	go func() {
		conn, err := echoLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	clientTunnel, err := client.Connect(ctx, "server-device", "127.0.0.1", uint16(serverAddr.Port))
	require.NoError(t, err)
	defer clientTunnel.Close()

	echoPort := uint16(echoLn.Addr().(*net.TCPAddr).Port)
	stream, err := clientTunnel.OpenStream(ctx, echoPort)
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	stream.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(stream, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

// TestTunnelClosesAfterMissedPongs runs a fake peer that completes the
// Hello handshake but never answers Ping, and checks the tunnel
// transitions to Closed once 3x the ping interval elapses with no Pong
// (spec §4.8).
func TestTunnelClosesAfterMissedPongs(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := rtcp.ReadPackage(conn, false); err != nil {
			return
		}
		if err := rtcp.WritePackage(conn, rtcp.CmdHelloAck, 0, rtcp.HelloAckBody{TestResult: true}); err != nil {
			return
		}
		// Stay connected but never reply to Ping frames.
		io.Copy(io.Discard, conn)
	}()

	registry := rtcp.NewRegistry("client-device", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	lnAddr := ln.Addr().(*net.TCPAddr)
	tunnel, err := rtcp.Dial(ctx, registry, rtcp.Config{
		ThisDevice:   "client-device",
		PingInterval: 20 * time.Millisecond,
	}, "silent-peer", "127.0.0.1", uint16(lnAddr.Port), 0)
	require.NoError(t, err)
	defer tunnel.Close()

	assert.Eventually(t, func() bool {
		return tunnel.State() == rtcp.StateClosed
	}, 2*time.Second, 10*time.Millisecond)
}
