// Package fake implements I2C and SPI buses backed by in-memory register files, for tests and
// for running without hardware.
package fake

import (
	"sync"
)

// RegisterWrite records a single register write.
type RegisterWrite struct {
	Register byte
	Value    byte
}

// Registers is the register file of a simulated device.
type Registers struct {
	mu          sync.Mutex
	values      map[byte]byte
	queued      map[byte][]byte
	readErrors  map[byte]error
	writeErrors map[byte]error
	writes      []RegisterWrite
}

// NewRegisters returns an empty register file; every register reads 0.
func NewRegisters() *Registers {
	return &Registers{
		values:      map[byte]byte{},
		queued:      map[byte][]byte{},
		readErrors:  map[byte]error{},
		writeErrors: map[byte]error{},
	}
}

// Set stores `value` in `register`.
func (r *Registers) Set(register, value byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[register] = value
}

// Get returns the value stored in `register`.
func (r *Registers) Get(register byte) byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[register]
}

// QueueReads makes the next reads of `register` return `values` in order. Once the queue is
// exhausted, reads return the stored value, which is left at the last queued one.
func (r *Registers) QueueReads(register byte, values ...byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queued[register] = append(r.queued[register], values...)
}

// SetReadError makes reads of `register` fail with `err` until it is set to nil.
func (r *Registers) SetReadError(register byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readErrors[register] = err
}

// SetWriteError makes writes to `register` fail with `err` until it is set to nil.
func (r *Registers) SetWriteError(register byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeErrors[register] = err
}

// Writes returns every successful write, oldest first.
func (r *Registers) Writes() []RegisterWrite {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RegisterWrite(nil), r.writes...)
}

func (r *Registers) read(register byte) (byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.readErrors[register]; err != nil {
		return 0, err
	}
	if q := r.queued[register]; len(q) > 0 {
		r.values[register] = q[0]
		r.queued[register] = q[1:]
	}
	return r.values[register], nil
}

func (r *Registers) write(register, value byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writeErrors[register]; err != nil {
		return err
	}
	r.values[register] = value
	r.writes = append(r.writes, RegisterWrite{Register: register, Value: value})
	return nil
}
