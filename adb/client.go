// Package adb drives the adb binary. Everything goes through exec so the
// client works against whatever adb the user already has, including over
// TCP/IP devices.
package adb

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Client runs adb commands against one device. An empty Serial targets the
// default device.
type Client struct {
	Path   string
	Serial string
}

// NewClient resolves the adb binary and returns a client bound to serial.
func NewClient(serial string) (*Client, error) {
	path, err := FindADB()
	if err != nil {
		return nil, err
	}
	return &Client{Path: path, Serial: serial}, nil
}

// FindADB returns the path to the adb executable: the working directory
// first, then the system PATH.
func FindADB() (string, error) {
	exeName := "adb"
	if runtime.GOOS == "windows" {
		exeName = "adb.exe"
	}

	if localPath, err := filepath.Abs(exeName); err == nil {
		if _, err := os.Stat(localPath); err == nil {
			return localPath, nil
		}
	}

	if path, err := exec.LookPath(exeName); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("adb executable not found in current directory or PATH")
}

func (c *Client) command(ctx context.Context, args ...string) *exec.Cmd {
	if c.Serial != "" {
		args = append([]string{"-s", c.Serial}, args...)
	}
	return exec.CommandContext(ctx, c.Path, args...)
}

// Run executes an adb command and returns its combined output on failure.
func (c *Client) Run(ctx context.Context, args ...string) error {
	var out bytes.Buffer
	cmd := c.command(ctx, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(out.String())
		if msg == "" {
			return fmt.Errorf("adb %s: %w", args[0], err)
		}
		return fmt.Errorf("adb %s: %w: %s", args[0], err, msg)
	}
	return nil
}

// Output executes an adb command and returns its stdout.
func (c *Client) Output(ctx context.Context, args ...string) (string, error) {
	var out, errOut bytes.Buffer
	cmd := c.command(ctx, args...)
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(errOut.String())
		if msg == "" {
			return "", fmt.Errorf("adb %s: %w", args[0], err)
		}
		return "", fmt.Errorf("adb %s: %w: %s", args[0], err, msg)
	}
	return out.String(), nil
}

// Push copies a local file to the device.
func (c *Client) Push(ctx context.Context, localPath, remotePath string) error {
	return c.Run(ctx, "push", localPath, remotePath)
}

// Reverse installs a reverse tunnel from a device socket to a local TCP port.
func (c *Client) Reverse(ctx context.Context, deviceSocket string, localPort int) error {
	return c.Run(ctx, "reverse", deviceSocket, fmt.Sprintf("tcp:%d", localPort))
}

// ReverseRemove tears down a reverse tunnel.
func (c *Client) ReverseRemove(ctx context.Context, deviceSocket string) error {
	return c.Run(ctx, "reverse", "--remove", deviceSocket)
}

// Shell runs a shell command on the device. It blocks until the command
// exits or ctx is cancelled.
func (c *Client) Shell(ctx context.Context, shellCmd string) error {
	return c.Run(ctx, "shell", shellCmd)
}

// ShellOutput runs a shell command and returns its stdout.
func (c *Client) ShellOutput(ctx context.Context, shellCmd string) (string, error) {
	return c.Output(ctx, "shell", shellCmd)
}
