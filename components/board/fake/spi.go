package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.sensorhub.dev/sensorhub/components/board/genericlinux/buses"
)

// SPI is a simulated SPI device speaking the two-byte register protocol: byte 0 carries the
// register index in its high nibble plus 0x80 for writes, byte 1 the payload. The reply to a
// read carries the register value in byte 1.
type SPI struct {
	mu        sync.Mutex
	Registers *Registers
	transfers []Transfer
	closes    int
}

// Transfer records the parameters and frame of one Xfer.
type Transfer struct {
	Baud       uint
	ChipSelect string
	Mode       uint
	Tx         []byte
}

// NewSPI returns a simulated device with an empty register file.
func NewSPI() *SPI {
	return &SPI{Registers: NewRegisters()}
}

// Transfers returns every transfer so far, oldest first.
func (s *SPI) Transfers() []Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transfer(nil), s.transfers...)
}

// CloseCount returns how many times the bus was closed.
func (s *SPI) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// OpenHandle returns a handle for transfers.
func (s *SPI) OpenHandle() (buses.SPIHandle, error) {
	return &SPIHandle{bus: s}, nil
}

// Close counts the close.
func (s *SPI) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// SPIHandle performs transfers against the simulated device.
type SPIHandle struct {
	bus *SPI
}

// Xfer decodes `tx` as a register frame and returns the device's reply.
func (h *SPIHandle) Xfer(ctx context.Context, baud uint, chipSelect string, mode uint, tx []byte) ([]byte, error) {
	h.bus.mu.Lock()
	h.bus.transfers = append(h.bus.transfers, Transfer{
		Baud:       baud,
		ChipSelect: chipSelect,
		Mode:       mode,
		Tx:         append([]byte(nil), tx...),
	})
	h.bus.mu.Unlock()

	if len(tx) != 2 {
		return nil, errors.Errorf("expected a 2 byte frame, got %d bytes", len(tx))
	}
	register := (tx[0] &^ 0x80) >> 4
	rx := make([]byte, len(tx))
	if tx[0]&0x80 != 0 {
		return rx, h.bus.Registers.write(register, tx[1])
	}
	value, err := h.bus.Registers.read(register)
	if err != nil {
		return nil, err
	}
	rx[1] = value
	return rx, nil
}

// Close is a no-op; the bus is closed separately.
func (h *SPIHandle) Close() error {
	return nil
}
