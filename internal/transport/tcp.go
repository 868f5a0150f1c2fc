package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/playsem-core/internal/device"
)

const (
	defaultDialTimeout = 5 * time.Second

	// defaultIOTimeout bounds a write or ack read when ctx has no deadline.
	defaultIOTimeout = 2 * time.Second
)

// TCPDriver talks newline-delimited JSON to a device over TCP.
//
// Address keys: host, port (both required).
type TCPDriver struct {
	address     string
	dialTimeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// NewTCPDriver builds a driver from a tcp device address. dialTimeout <= 0
// uses defaultDialTimeout.
func NewTCPDriver(addr device.Address, dialTimeout time.Duration) (*TCPDriver, error) {
	host, port := addr["host"], addr["port"]
	if host == "" || port == "" {
		return nil, fmt.Errorf("%w: tcp transport requires \"host\" and \"port\"", device.ErrInvalidAddress)
	}
	if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
		return nil, fmt.Errorf("%w: port %q", device.ErrInvalidAddress, port)
	}
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	return &TCPDriver{address: net.JoinHostPort(host, port), dialTimeout: dialTimeout}, nil
}

// Connect dials the device, replacing any existing connection.
func (d *TCPDriver) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, d.dialTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", d.address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", d.address, err)
	}

	d.mu.Lock()
	d.closeLocked() //nolint:errcheck // replacing a stale connection
	d.conn = conn
	d.reader = bufio.NewReaderSize(conn, maxLineSize)
	d.mu.Unlock()
	return nil
}

// Disconnect closes the connection.
func (d *TCPDriver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeLocked()
}

func (d *TCPDriver) closeLocked() error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	d.reader = nil
	return err
}

// Send writes cmd and waits for its ack line. I/O failures close the
// connection.
func (d *TCPDriver) Send(ctx context.Context, cmd device.Command) (device.Ack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return device.Ack{}, ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return device.Ack{}, ctx.Err()
	default:
	}

	deadline := time.Now().Add(defaultIOTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := d.conn.SetDeadline(deadline); err != nil {
		d.closeLocked() //nolint:errcheck // reporting the deadline error
		return device.Ack{}, fmt.Errorf("%w: set deadline: %w", ErrSendFailed, err)
	}

	if err := writeCommandLine(d.conn, cmd); err != nil {
		d.closeLocked() //nolint:errcheck // reporting the write error
		return device.Ack{}, d.ioError(ctx, "write", err)
	}

	for {
		line, err := d.reader.ReadSlice('\n')
		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				err = ErrLineTooLong
			}
			d.closeLocked() //nolint:errcheck // reporting the read error
			return device.Ack{}, d.ioError(ctx, "read", err)
		}
		if ack, ok := matchAck(line, cmd); ok {
			return ack.toAck(cmd)
		}
	}
}

// ioError maps a deadline hit caused by ctx to ctx's own error.
func (d *TCPDriver) ioError(ctx context.Context, op string, err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
			return context.DeadlineExceeded
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrSendFailed, op, err)
}
