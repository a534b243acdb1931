// Package control wraps the authenticated RCON command channel to the game
// server. Every failure is collapsed into ErrUnreachable: callers never
// retry directly, they poll state instead.
package control

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorcon/rcon"
)

// ErrUnreachable marks connect/timeout failures on the control channel.
var ErrUnreachable = errors.New("control channel unreachable")

// Client sends commands over RCON. A zero Timeout defaults to 5s.
type Client struct {
	Addr     string
	Password string
	Timeout  time.Duration
}

// Command executes one free-text command and returns the textual response.
func (c Client) Command(command string) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	conn, err := rcon.Dial(c.Addr, c.Password,
		rcon.SetDialTimeout(timeout),
		rcon.SetDeadline(timeout))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer func() { _ = conn.Close() }()

	resp, err := conn.Execute(command)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return resp, nil
}

// Stop issues the server's stop command.
func (c Client) Stop() error {
	_, err := c.Command("stop")
	return err
}
