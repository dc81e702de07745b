// Command ndnpeer is a thin client for manual end-to-end checks
// against a running ndnd: it exercises the NDN HTTP client (C7) to
// fetch named objects and chunks, and the RTCP stack (C8) to dial a
// tunnel and pipe a stream through it. It carries no CLI framework
// (spec Non-goals: CLI/config wrappers remain external collaborators)
// — just a subcommand switch over os.Args, in keeping with the core's
// env-var-only configuration stance.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/ndnclient"
	"github.com/buckyos/ndncore/internal/rtcp"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("component", "ndnpeer").Logger()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "get":
		err = runGet(ctx, os.Args[2:])
	case "pull":
		err = runPull(ctx, os.Args[2:])
	case "download":
		err = runDownload(ctx, os.Args[2:])
	case "dial":
		err = runDial(ctx, os.Args[2:], logger)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("ndnpeer failed")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  ndnpeer get <url>
  ndnpeer pull <url> <chunk-id>
  ndnpeer download <url> <chunk-id> <dest-path>
  ndnpeer dial <device-id> <peer-addr> <peer-stack-port> <dest-port>`)
}

func runGet(ctx context.Context, args []string) error {
	if len(args) != 1 {
		usage()
		return fmt.Errorf("ndnpeer: get requires exactly one url")
	}
	client := ndnclient.New(ndnclient.Config{})
	id, canonical, err := client.GetObjByUrl(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "obj_id: %s\n", id)
	_, err = fmt.Fprintln(os.Stdout, canonical)
	return err
}

func runPull(ctx context.Context, args []string) error {
	if len(args) != 2 {
		usage()
		return fmt.Errorf("ndnpeer: pull requires a url and a chunk id")
	}
	id, err := chunkid.Parse(args[1])
	if err != nil {
		return err
	}
	client := ndnclient.New(ndnclient.Config{})
	data, err := client.PullChunk(ctx, args[0], id)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runDownload(ctx context.Context, args []string) error {
	if len(args) != 3 {
		usage()
		return fmt.Errorf("ndnpeer: download requires a url, a chunk id, and a destination path")
	}
	id, err := chunkid.Parse(args[1])
	if err != nil {
		return err
	}
	client := ndnclient.New(ndnclient.Config{})
	if err := client.DownloadChunkToLocal(ctx, args[0], id, args[2]); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", args[2])
	return nil
}

// runDial opens an RTCP tunnel to peerAddr and requests a stream to
// destPort via ROpen, then splices that stream onto stdin/stdout —
// the same shape netcat gives a raw TCP stream, so any protocol
// ndnd forwards can be driven or inspected interactively.
func runDial(ctx context.Context, args []string, logger zerolog.Logger) error {
	if len(args) != 4 {
		usage()
		return fmt.Errorf("ndnpeer: dial requires device-id, peer-addr, peer-stack-port, dest-port")
	}
	deviceId, peerAddr := args[0], args[1]
	stackPort, err := parsePort(args[2])
	if err != nil {
		return err
	}
	destPort, err := parsePort(args[3])
	if err != nil {
		return err
	}

	stack, err := rtcp.Listen(fmt.Sprintf(":%d", rtcp.DefaultStackPort), rtcp.Config{
		ThisDevice: "ndnpeer",
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer stack.Close()
	go func() {
		if err := stack.Serve(ctx); err != nil {
			logger.Debug().Err(err).Msg("rtcp stack stopped")
		}
	}()

	tunnel, err := stack.Connect(ctx, deviceId, peerAddr, stackPort)
	if err != nil {
		return err
	}
	defer tunnel.Close()

	conn, err := tunnel.OpenStream(ctx, destPort)
	if err != nil {
		return err
	}
	defer conn.Close()

	errCh := make(chan error, 2)
	go func() { _, err := io.Copy(conn, os.Stdin); errCh <- err }()
	go func() { _, err := io.Copy(os.Stdout, conn); errCh <- err }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("ndnpeer: invalid port %q: %w", s, err)
	}
	return uint16(n), nil
}
