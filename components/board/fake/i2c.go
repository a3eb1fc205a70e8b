package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.sensorhub.dev/sensorhub/components/board/genericlinux/buses"
)

// I2C is a simulated I2C bus. Each address is backed by its own register file.
type I2C struct {
	mu      sync.Mutex
	devices map[byte]*Registers
	open    map[byte]bool
	// OpenErr, when set, makes OpenHandle fail.
	OpenErr error
	closes  int
}

// NewI2C returns an empty simulated bus.
func NewI2C() *I2C {
	return &I2C{devices: map[byte]*Registers{}, open: map[byte]bool{}}
}

// Device returns the register file at `addr`, creating it if needed.
func (b *I2C) Device(addr byte) *Registers {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deviceLocked(addr)
}

func (b *I2C) deviceLocked(addr byte) *Registers {
	regs, ok := b.devices[addr]
	if !ok {
		regs = NewRegisters()
		b.devices[addr] = regs
	}
	return regs
}

// CloseCount returns how many handles were closed.
func (b *I2C) CloseCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes
}

// OpenHandle opens a handle to the device at `addr`. Only one handle per address may be open.
func (b *I2C) OpenHandle(addr byte) (buses.I2CHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	if b.open[addr] {
		return nil, errors.Errorf("I2C address 0x%02x is already open", addr)
	}
	b.open[addr] = true
	return &I2CHandle{bus: b, addr: addr, regs: b.deviceLocked(addr)}, nil
}

// I2CHandle is an open handle on a simulated I2C device.
type I2CHandle struct {
	bus  *I2C
	addr byte
	regs *Registers

	mu      sync.Mutex
	pointer byte
	closed  bool
}

var errHandleClosed = errors.New("handle is closed")

// Write writes `tx`. A single byte selects the register for the next Read; longer writes store
// tx[1:] into consecutive registers starting at tx[0].
func (h *I2CHandle) Write(ctx context.Context, tx []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errHandleClosed
	}
	if len(tx) == 0 {
		return errors.New("empty I2C write")
	}
	h.pointer = tx[0]
	for i, value := range tx[1:] {
		if err := h.regs.write(tx[0]+byte(i), value); err != nil {
			return err
		}
	}
	return nil
}

// Read reads `count` consecutive registers starting at the last selected one.
func (h *I2CHandle) Read(ctx context.Context, count int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errHandleClosed
	}
	out := make([]byte, count)
	for i := range out {
		value, err := h.regs.read(h.pointer + byte(i))
		if err != nil {
			return nil, err
		}
		out[i] = value
	}
	return out, nil
}

// ReadByteData reads a single register.
func (h *I2CHandle) ReadByteData(ctx context.Context, register byte) (byte, error) {
	if err := h.Write(ctx, []byte{register}); err != nil {
		return 0, err
	}
	rx, err := h.Read(ctx, 1)
	if err != nil {
		return 0, err
	}
	return rx[0], nil
}

// WriteByteData writes a single register.
func (h *I2CHandle) WriteByteData(ctx context.Context, register, data byte) error {
	return h.Write(ctx, []byte{register, data})
}

// Close releases the address.
func (h *I2CHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errHandleClosed
	}
	h.closed = true

	h.bus.mu.Lock()
	defer h.bus.mu.Unlock()
	delete(h.bus.open, h.addr)
	h.bus.closes++
	return nil
}
