package buses

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

type connectCall struct {
	freq physic.Frequency
	mode spi.Mode
	bits int
}

type recordingPort struct {
	spi.PortCloser
	name     string
	connects []connectCall
	closed   int
	tx       [][]byte
}

func (p *recordingPort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	p.connects = append(p.connects, connectCall{f, mode, bits})
	return &recordingConn{port: p}, nil
}

func (p *recordingPort) Close() error {
	p.closed++
	return nil
}

type recordingConn struct {
	spi.Conn
	port *recordingPort
}

func (c *recordingConn) Tx(w, r []byte) error {
	c.port.tx = append(c.port.tx, append([]byte(nil), w...))
	r[len(r)-1] = 0x42
	return nil
}

func newRecordingBus() (*spiBus, *[]*recordingPort) {
	var opened []*recordingPort
	bus := &spiBus{port: "/dev/spidev0.0", open: func(name string) (spi.PortCloser, error) {
		p := &recordingPort{name: name}
		opened = append(opened, p)
		return p, nil
	}}
	return bus, &opened
}

func TestSPIHandleConfiguresPortOnce(t *testing.T) {
	ctx := context.Background()
	bus, opened := newRecordingBus()
	handle, err := bus.OpenHandle()
	test.That(t, err, test.ShouldBeNil)

	for i := 0; i < 3; i++ {
		rx, err := handle.Xfer(ctx, 20000, "", 0, []byte{0x20, 0x00})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, rx, test.ShouldResemble, []byte{0x00, 0x42})
	}
	test.That(t, len(*opened), test.ShouldEqual, 1)
	port := (*opened)[0]
	test.That(t, port.name, test.ShouldEqual, "/dev/spidev0.0")
	test.That(t, port.connects, test.ShouldResemble, []connectCall{{20 * physic.KiloHertz, spi.Mode0, 8}})
	test.That(t, len(port.tx), test.ShouldEqual, 3)
	test.That(t, port.closed, test.ShouldEqual, 0)

	// a different configuration reconnects
	_, err = handle.Xfer(ctx, 20000, "1", 3, []byte{0x90, 0x01})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(*opened), test.ShouldEqual, 2)
	test.That(t, port.closed, test.ShouldEqual, 1)
	test.That(t, (*opened)[1].name, test.ShouldEqual, "/dev/spidev0.0.1")
	test.That(t, (*opened)[1].connects[0].mode, test.ShouldEqual, spi.Mode3)

	test.That(t, handle.Close(), test.ShouldBeNil)
	test.That(t, (*opened)[1].closed, test.ShouldEqual, 1)
	_, err = handle.Xfer(ctx, 20000, "", 0, []byte{0x20, 0x00})
	test.That(t, err, test.ShouldNotBeNil)

	// the bus can be opened again once the handle is closed
	handle, err = bus.OpenHandle()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, handle.Close(), test.ShouldBeNil)
}

func TestSPIHandleOpenFailure(t *testing.T) {
	bus := &spiBus{port: "SPI9", open: func(string) (spi.PortCloser, error) {
		return nil, errors.New("no such port")
	}}
	handle, err := bus.OpenHandle()
	test.That(t, err, test.ShouldBeNil)
	defer func() { test.That(t, handle.Close(), test.ShouldBeNil) }()

	_, err = handle.Xfer(context.Background(), 20000, "", 0, []byte{0x20, 0x00})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to open SPI port SPI9")
}
