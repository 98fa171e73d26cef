// Package ir sends single infrared key presses through LIRC.
package ir

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Transmitter sends one press of key as defined by the remote profile.
type Transmitter interface {
	SendOnce(ctx context.Context, remote, key string) error
}

// Irsend shells out to the irsend client that ships with LIRC.
type Irsend struct {
	Path    string
	Timeout time.Duration
	logger  *slog.Logger
}

func NewIrsend(path string, timeout time.Duration, logger *slog.Logger) *Irsend {
	if path == "" {
		path = "irsend"
	}
	return &Irsend{Path: path, Timeout: timeout, logger: logger}
}

func (i *Irsend) SendOnce(ctx context.Context, remote, key string) error {
	if i.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, i.Path, "SEND_ONCE", remote, key)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	i.logger.Debug("irsend", "remote", remote, "key", key)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("irsend SEND_ONCE %s %s: %w: %s", remote, key, err, strings.TrimSpace(out.String()))
	}
	return nil
}
