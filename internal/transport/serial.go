package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/nerrad567/playsem-core/internal/device"
)

const (
	defaultBaudRate = 115200

	// serialPollInterval is the port read timeout. Reads return empty at
	// this cadence so a waiting Send can notice ctx cancellation.
	serialPollInterval = 20 * time.Millisecond
)

// serialPort is the part of serial.Port the driver uses.
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

type serialOpener func(name string, mode *serial.Mode) (serialPort, error)

func openSerial(name string, mode *serial.Mode) (serialPort, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SerialDriver talks newline-delimited JSON to a device on a serial port.
//
// Address keys: port (required), baud (default 115200).
type SerialDriver struct {
	portName string
	mode     *serial.Mode
	open     serialOpener

	mu   sync.Mutex
	port serialPort
	buf  []byte
}

// NewSerialDriver builds a driver from a serial device address.
func NewSerialDriver(addr device.Address) (*SerialDriver, error) {
	return newSerialDriver(addr, openSerial)
}

func newSerialDriver(addr device.Address, open serialOpener) (*SerialDriver, error) {
	name := addr["port"]
	if name == "" {
		return nil, fmt.Errorf("%w: serial transport requires \"port\"", device.ErrInvalidAddress)
	}

	baud := defaultBaudRate
	if v := addr["baud"]; v != "" {
		b, err := strconv.Atoi(v)
		if err != nil || b <= 0 {
			return nil, fmt.Errorf("%w: baud %q", device.ErrInvalidAddress, v)
		}
		baud = b
	}

	return &SerialDriver{
		portName: name,
		mode: &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		open: open,
	}, nil
}

// Connect opens the port, replacing any previously open handle.
func (d *SerialDriver) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.closeLocked()

	port, err := d.open(d.portName, d.mode)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.portName, err)
	}
	if err := port.SetReadTimeout(serialPollInterval); err != nil {
		port.Close() //nolint:errcheck // already failing
		return fmt.Errorf("set read timeout on %s: %w", d.portName, err)
	}
	// Drop anything the device printed while we were away.
	if err := port.ResetInputBuffer(); err != nil {
		port.Close() //nolint:errcheck // already failing
		return fmt.Errorf("reset input on %s: %w", d.portName, err)
	}

	d.port = port
	d.buf = d.buf[:0]
	return nil
}

// Disconnect closes the port.
func (d *SerialDriver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeLocked()
}

func (d *SerialDriver) closeLocked() error {
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}

// Send writes cmd and waits for its ack line. An I/O failure closes the
// port; the registry's reconnect loop reopens it.
func (d *SerialDriver) Send(ctx context.Context, cmd device.Command) (device.Ack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port == nil {
		return device.Ack{}, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return device.Ack{}, err
	}

	if err := writeCommandLine(d.port, cmd); err != nil {
		d.closeLocked() //nolint:errcheck // reporting the write error
		return device.Ack{}, fmt.Errorf("%w: write: %w", ErrSendFailed, err)
	}

	for {
		line, err := d.readLineLocked(ctx)
		if err != nil {
			if ctx.Err() == nil {
				d.closeLocked() //nolint:errcheck // reporting the read error
				return device.Ack{}, fmt.Errorf("%w: read: %w", ErrSendFailed, err)
			}
			return device.Ack{}, err
		}
		if ack, ok := matchAck(line, cmd); ok {
			return ack.toAck(cmd)
		}
	}
}

// readLineLocked returns the next newline-terminated line, polling the port
// until one arrives or ctx ends.
func (d *SerialDriver) readLineLocked(ctx context.Context) ([]byte, error) {
	var chunk [256]byte
	for {
		if i := bytes.IndexByte(d.buf, '\n'); i >= 0 {
			line := bytes.Clone(d.buf[:i])
			d.buf = append(d.buf[:0], d.buf[i+1:]...)
			return line, nil
		}
		if len(d.buf) > maxLineSize {
			d.buf = d.buf[:0]
			return nil, ErrLineTooLong
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := d.port.Read(chunk[:])
		if err != nil {
			return nil, err
		}
		d.buf = append(d.buf, chunk[:n]...)
	}
}
