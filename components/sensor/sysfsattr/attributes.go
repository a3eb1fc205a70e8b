package sysfsattr

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Attribute file names.
const (
	initvalAttr         = "initval"
	enableAttr          = "enable"
	frequencyAttr       = "frequency"
	enableInterruptAttr = "enable_interrupt"
	interruptAttr       = "interrupt"
	dataAttr            = "data"
)

// attributeDir reads and writes the text attributes of one device directory.
type attributeDir struct {
	path string
}

func (d attributeDir) file(attr string) string {
	return filepath.Join(d.path, attr)
}

func (d attributeDir) writeString(attr, value string) error {
	// sysfs attributes already exist; never create one.
	f, err := os.OpenFile(d.file(attr), os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return errors.Wrapf(err, "failed to open attribute %s", attr)
	}
	if _, err := f.WriteString(value); err != nil {
		//nolint:errcheck
		f.Close()
		return errors.Wrapf(err, "failed to write attribute %s", attr)
	}
	return errors.Wrapf(f.Close(), "failed to write attribute %s", attr)
}

func (d attributeDir) writeUint(attr string, value uint32) error {
	return d.writeString(attr, strconv.FormatUint(uint64(value), 10))
}

func (d attributeDir) readString(attr string) (string, error) {
	raw, err := os.ReadFile(d.file(attr))
	if err != nil {
		return "", errors.Wrapf(err, "failed to read attribute %s", attr)
	}
	return string(raw), nil
}

func (d attributeDir) readUint(attr string) (uint32, error) {
	text, err := d.readString(attr)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(strings.TrimSpace(text), 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "attribute %s is not a number", attr)
	}
	return uint32(value), nil
}
