// Package serial wraps host serial ports behind small interfaces so the link
// supervisor can be exercised against fakes.
package serial

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"time"

	bugst "go.bug.st/serial"
)

// ErrNoData is returned by ReadLine when the bounded wait elapses without a
// complete line. The link may still be healthy; the caller decides.
var ErrNoData = errors.New("serial: no data within read timeout")

// Port is one open serial connection. Reads and writes may happen from
// different goroutines; Close may be called concurrently with either.
type Port interface {
	io.WriteCloser

	// ReadLine blocks for at most the configured read timeout and returns
	// the next newline-terminated line with the terminator stripped.
	ReadLine() (string, error)

	// IsOpen reports whether the handle has not been closed.
	IsOpen() bool

	// Name returns the port's device name.
	Name() string
}

// Opener creates ports and enumerates the host's devices.
type Opener interface {
	Open(name string, baudRate int, readTimeout time.Duration) (Port, error)
	List() ([]string, error)
}

// HostOpener opens real serial devices.
type HostOpener struct{}

// Open configures and opens the named device.
func (HostOpener) Open(name string, baudRate int, readTimeout time.Duration) (Port, error) {
	mode := &bugst.Mode{BaudRate: baudRate}
	port, err := bugst.Open(name, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, err
	}
	return &hostPort{name: name, port: port}, nil
}

// List returns the device names currently enumerated by the host.
func (HostOpener) List() ([]string, error) {
	return bugst.GetPortsList()
}

type hostPort struct {
	name   string
	port   bugst.Port
	buf    []byte
	closed atomic.Bool
}

func (p *hostPort) ReadLine() (string, error) {
	if line, ok := p.takeLine(); ok {
		return line, nil
	}

	chunk := make([]byte, 256)
	n, err := p.port.Read(chunk)
	if err != nil {
		return "", err
	}
	if n == 0 {
		// Read timeout elapsed on a quiet link.
		return "", ErrNoData
	}
	p.buf = append(p.buf, chunk[:n]...)

	if line, ok := p.takeLine(); ok {
		return line, nil
	}
	return "", ErrNoData
}

// takeLine pops one complete line off the partial-read buffer. Bytes are
// decoded as UTF-8 best effort with invalid sequences replaced, never fatal.
func (p *hostPort) takeLine() (string, bool) {
	i := bytes.IndexByte(p.buf, '\n')
	if i < 0 {
		return "", false
	}
	raw := bytes.TrimRight(p.buf[:i], "\r")
	line := string(bytes.ToValidUTF8(raw, []byte("�")))
	p.buf = append(p.buf[:0], p.buf[i+1:]...)
	return strings.TrimSpace(line), true
}

func (p *hostPort) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

func (p *hostPort) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.port.Close()
}

func (p *hostPort) IsOpen() bool {
	return !p.closed.Load()
}

func (p *hostPort) Name() string {
	return p.name
}
