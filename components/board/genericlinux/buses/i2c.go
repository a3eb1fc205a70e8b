package buses

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
)

// NewI2cBus returns the I2C bus with the given name, e.g. "1" for /dev/i2c-1.
func NewI2cBus(name string) (I2C, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	return &i2cBus{name: name, open: map[byte]bool{}}, nil
}

type i2cBus struct {
	name string

	mu   sync.Mutex
	open map[byte]bool
}

func (bus *i2cBus) OpenHandle(addr byte) (I2CHandle, error) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if bus.open[addr] {
		return nil, errors.Errorf("I2C address 0x%02x on bus %s is already open", addr, bus.name)
	}

	closer, err := i2creg.Open(bus.name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open I2C bus %s", bus.name)
	}
	bus.open[addr] = true
	return &i2cHandle{
		bus:    bus,
		closer: closer,
		dev:    &i2c.Dev{Bus: closer, Addr: uint16(addr)},
	}, nil
}

// i2cHandle owns one periph bus connection talking to a single address.
type i2cHandle struct {
	bus    *i2cBus
	closer i2c.BusCloser
	dev    *i2c.Dev
}

func (h *i2cHandle) Write(ctx context.Context, tx []byte) error {
	written, err := h.dev.Write(tx)
	if err != nil {
		return err
	}
	if written != len(tx) {
		return fmt.Errorf("not all bytes were written to I2C address 0x%02x on bus %s: had %d, wrote %d",
			h.dev.Addr, h.bus.name, len(tx), written)
	}
	return nil
}

func (h *i2cHandle) Read(ctx context.Context, count int) ([]byte, error) {
	buffer := make([]byte, count)
	if err := h.dev.Tx(nil, buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

func (h *i2cHandle) ReadByteData(ctx context.Context, register byte) (byte, error) {
	rx := make([]byte, 1)
	if err := h.dev.Tx([]byte{register}, rx); err != nil {
		return 0, err
	}
	return rx[0], nil
}

func (h *i2cHandle) WriteByteData(ctx context.Context, register, data byte) error {
	return h.Write(ctx, []byte{register, data})
}

func (h *i2cHandle) Close() error {
	h.bus.mu.Lock()
	delete(h.bus.open, byte(h.dev.Addr))
	h.bus.mu.Unlock()
	return h.closer.Close()
}
