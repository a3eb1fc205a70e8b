package sysfsattr

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// Emulator backs an attribute device with regular files, for simulation and tests. Pair it
// with the inotify notifier.
type Emulator struct {
	mu  sync.Mutex
	dir attributeDir
}

// NewEmulator creates the attribute files of a device under `dir`.
func NewEmulator(dir string) (*Emulator, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", dir)
	}
	for _, attr := range []string{initvalAttr, enableAttr, frequencyAttr, enableInterruptAttr, interruptAttr, dataAttr} {
		if err := os.WriteFile(filepath.Join(dir, attr), []byte("0\n"), 0o600); err != nil {
			return nil, errors.Wrapf(err, "failed to create attribute %s", attr)
		}
	}
	return &Emulator{dir: attributeDir{path: dir}}, nil
}

// Path returns the device directory.
func (e *Emulator) Path() string {
	return e.dir.path
}

// Attribute returns the current raw content of an attribute.
func (e *Emulator) Attribute(attr string) (string, error) {
	return e.dir.readString(attr)
}

// Trigger publishes `value` as the next sample and raises the interrupt.
func (e *Emulator) Trigger(value uint32) error {
	return e.TriggerRaw(strconv.FormatUint(uint64(value), 10) + "\n")
}

// TriggerRaw is like Trigger but writes `data` verbatim, which allows emulating garbage.
func (e *Emulator) TriggerRaw(data string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.dir.writeString(dataAttr, data); err != nil {
		return err
	}
	return e.dir.writeString(interruptAttr, "1\n")
}
