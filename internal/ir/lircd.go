package ir

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
)

var ErrLircd = errors.New("lircd refused command")

// Lircd talks to the lircd daemon over its unix socket, skipping the
// fork of irsend for every key.
type Lircd struct {
	Socket  string
	Timeout time.Duration
	logger  *slog.Logger
	dialer  net.Dialer
}

func NewLircd(socket string, timeout time.Duration, logger *slog.Logger) *Lircd {
	if socket == "" {
		socket = "/var/run/lirc/lircd"
	}
	return &Lircd{Socket: socket, Timeout: timeout, logger: logger}
}

func (l *Lircd) SendOnce(ctx context.Context, remote, key string) error {
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}
	conn, err := l.dialer.DialContext(ctx, "unix", l.Socket)
	if err != nil {
		return fmt.Errorf("dial lircd: %w", err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	cmd := fmt.Sprintf("SEND_ONCE %s %s", remote, key)
	l.logger.Debug("lircd", "command", cmd)
	if _, err := fmt.Fprintf(conn, "%s\n", cmd); err != nil {
		return fmt.Errorf("write lircd: %w", err)
	}
	return readReply(bufio.NewReader(conn), cmd)
}

// readReply consumes packets until the one answering cmd. lircd may
// interleave broadcast packets (SIGHUP) which are skipped.
//
//	BEGIN
//	<command>
//	SUCCESS | ERROR
//	[DATA
//	 n
//	 n lines]
//	END
func readReply(r *bufio.Reader, cmd string) error {
	for {
		line, err := readLine(r)
		if err != nil {
			return err
		}
		if line != "BEGIN" {
			continue
		}
		echo, err := readLine(r)
		if err != nil {
			return err
		}
		if echo == "SIGHUP" {
			if err := skipUntilEnd(r); err != nil {
				return err
			}
			continue
		}
		if echo != cmd {
			return fmt.Errorf("lircd reply for %q, want %q", echo, cmd)
		}

		status, err := readLine(r)
		if err != nil {
			return err
		}
		var data []string
		next, err := readLine(r)
		if err != nil {
			return err
		}
		if next == "DATA" {
			countLine, err := readLine(r)
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(countLine)
			if err != nil {
				return fmt.Errorf("lircd data count %q: %w", countLine, err)
			}
			for range n {
				d, err := readLine(r)
				if err != nil {
					return err
				}
				data = append(data, d)
			}
			next, err = readLine(r)
			if err != nil {
				return err
			}
		}
		if next != "END" {
			return fmt.Errorf("lircd reply: expected END, got %q", next)
		}

		switch status {
		case "SUCCESS":
			return nil
		case "ERROR":
			return fmt.Errorf("%w: %s", ErrLircd, strings.Join(data, "; "))
		default:
			return fmt.Errorf("lircd reply: unknown status %q", status)
		}
	}
}

func skipUntilEnd(r *bufio.Reader) error {
	for {
		line, err := readLine(r)
		if err != nil {
			return err
		}
		if line == "END" {
			return nil
		}
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read lircd: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
