package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/nugget/choombridge/internal/signalrpc"
)

// runLink registers this bridge as a linked Signal device: it asks the
// daemon for a device-link URI, renders it as a terminal QR code, and
// waits for the phone to scan it.
func runLink(ctx context.Context, stdout io.Writer, configPath, deviceName string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Signal.ConnectTimeoutSec)*time.Second)
	transport, err := signalrpc.Dial(dialCtx, cfg.Signal.SocketPath, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("signal daemon: %w", err)
	}
	defer transport.Close()

	uri, err := transport.StartLink(ctx)
	if err != nil {
		return fmt.Errorf("start link: %w", err)
	}

	qr, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("render QR code: %w", err)
	}
	fmt.Fprintln(stdout, "Scan this QR code with Signal on your phone")
	fmt.Fprintln(stdout, "(Settings > Linked Devices > Link New Device):")
	fmt.Fprintln(stdout)
	fmt.Fprint(stdout, qr.ToSmallString(false))
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Or open the link directly:")
	fmt.Fprintln(stdout, "  "+uri)
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Waiting for the device to be linked...")

	if err := transport.FinishLink(ctx, uri, deviceName); err != nil {
		return fmt.Errorf("finish link: %w", err)
	}
	fmt.Fprintf(stdout, "Linked as %q.\n", deviceName)
	return nil
}
