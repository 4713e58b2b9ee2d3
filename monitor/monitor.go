// Package monitor talks to the scripting REPL of a real board over its
// serial port and runs the machine module calls there.
package monitor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/lopygo/machinectl/internal/logging"
)

var (
	ErrNoPort  = errors.New("monitor: no serial port found")
	ErrTimeout = errors.New("monitor: timed out waiting for the prompt")
)

// Prompt is the primary prompt of the REPL.
const Prompt = ">>> "

const (
	ctrlB = "\x02"
	ctrlC = "\x03"
)

// RemoteError is an exception raised on the board.
type RemoteError struct {
	Statement string
	Output    string
}

func (e *RemoteError) Error() string {
	lines := strings.Split(strings.TrimSpace(e.Output), "\n")
	return fmt.Sprintf("monitor: %s: %s", e.Statement, strings.TrimSpace(lines[len(lines)-1]))
}

// Ports lists the serial ports on this host.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

// DefaultPort returns the only serial port, or the last one if there are
// several (USB adapters are usually enumerated last).
func DefaultPort() (string, error) {
	ports, err := Ports()
	if err != nil {
		return "", fmt.Errorf("monitor: %w", err)
	}
	if len(ports) == 0 {
		return "", ErrNoPort
	}
	return ports[len(ports)-1], nil
}

// Conn is a REPL session.
type Conn struct {
	rw      io.ReadWriter
	closer  io.Closer
	log     *slog.Logger
	buf     bytes.Buffer
	Timeout time.Duration
}

// Open opens the serial port and interrupts whatever runs on the board.
func Open(port string, baud int) (*Conn, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("monitor: open %s: %w", port, err)
	}
	if err := p.SetReadTimeout(50 * time.Millisecond); err != nil {
		p.Close()
		return nil, fmt.Errorf("monitor: %w", err)
	}
	c := NewConn(p)
	c.closer = p
	if err := c.Interrupt(); err != nil {
		p.Close()
		return nil, err
	}
	return c, nil
}

// NewConn wraps an open link. Reads must not block forever: a read that
// times out returns 0 bytes.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		rw:      rw,
		log:     logging.For(logging.ComponentMonitor),
		Timeout: 3 * time.Second,
	}
}

// Close closes the port, if Conn opened it.
func (c *Conn) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Interrupt stops the running program and waits for the prompt.
func (c *Conn) Interrupt() error {
	if _, err := io.WriteString(c.rw, "\r"+ctrlB+ctrlC+ctrlC); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	_, err := c.readUntil(Prompt)
	return err
}

// Exec runs one statement and returns what it printed. An exception on the
// board is returned as a *RemoteError.
func (c *Conn) Exec(stmt string) (string, error) {
	c.log.Debug("exec", "stmt", stmt)
	if _, err := io.WriteString(c.rw, stmt+"\r\n"); err != nil {
		return "", fmt.Errorf("monitor: %w", err)
	}
	out, err := c.readUntil(Prompt)
	if err != nil {
		return "", err
	}
	// Drop the echo of the statement.
	if i := strings.Index(out, "\n"); i >= 0 && strings.HasPrefix(out, stmt) {
		out = out[i+1:]
	}
	out = strings.ReplaceAll(out, "\r\n", "\n")
	if strings.Contains(out, "Traceback (most recent call last)") {
		return "", &RemoteError{Statement: stmt, Output: out}
	}
	return strings.TrimSuffix(out, "\n"), nil
}

// Send writes a statement that does not come back to the prompt, such as a
// reset or deep sleep, and returns once it was written.
func (c *Conn) Send(stmt string) error {
	c.log.Debug("send", "stmt", stmt)
	if _, err := io.WriteString(c.rw, stmt+"\r\n"); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

// readUntil reads until marker and returns everything before it.
func (c *Conn) readUntil(marker string) (string, error) {
	deadline := time.Now().Add(c.Timeout)
	chunk := make([]byte, 256)
	for {
		if i := bytes.Index(c.buf.Bytes(), []byte(marker)); i >= 0 {
			out := string(c.buf.Next(i))
			c.buf.Next(len(marker))
			return out, nil
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
		n, err := c.rw.Read(chunk)
		c.buf.Write(chunk[:n])
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("monitor: %w", err)
		}
		if n == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
}
