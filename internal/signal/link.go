package signal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// Link runs "signal-cli link" so an existing Signal account can add
// this host as a linked device. The provisioning URI is rendered as a
// terminal QR code on w; Link returns once the phone has scanned it
// and signal-cli exits.
func Link(ctx context.Context, command, deviceName string, w io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if deviceName == "" {
		deviceName = "Hearth"
	}

	cmd := exec.CommandContext(ctx, command, "link", "-n", deviceName)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start signal-cli link: %w", err)
	}

	uri, err := readLinkURI(stdout)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return err
	}

	qr, err := RenderQR(uri)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return err
	}
	fmt.Fprintf(w, "Scan with Signal on your phone (Settings → Linked devices):\n\n%s\n%s\n", qr, uri)
	logger.Info("waiting for device link", "device_name", deviceName)

	// Drain anything else so signal-cli never blocks on a full pipe.
	go io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("signal-cli link: %w", err)
	}
	fmt.Fprintln(w, "Linked.")
	return nil
}

// readLinkURI returns the first provisioning URI signal-cli prints.
func readLinkURI(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if uri, ok := parseLinkURI(sc.Text()); ok {
			return uri, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read signal-cli output: %w", err)
	}
	return "", fmt.Errorf("signal-cli exited without a link URI")
}

// parseLinkURI recognises both the current sgnl:// and the legacy
// tsdevice: provisioning schemes.
func parseLinkURI(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "sgnl://linkdevice?") || strings.HasPrefix(line, "tsdevice:") {
		return line, true
	}
	return "", false
}

// RenderQR encodes uri as a compact block-character QR code.
func RenderQR(uri string) (string, error) {
	q, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return q.ToSmallString(false), nil
}
