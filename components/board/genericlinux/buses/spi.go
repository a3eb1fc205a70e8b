package buses

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

// NewSpiBus returns the SPI bus whose ports are named by `portName`, which is either a periph
// port name ("SPI0.0") or a spidev path ("/dev/spidev0.0"). An empty chip select passed to Xfer
// uses the port as named.
func NewSpiBus(portName string) (SPI, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	return &spiBus{port: portName, open: spireg.Open}, nil
}

type spiBus struct {
	mu         sync.Mutex
	openHandle *spiHandle
	port       string
	open       func(name string) (spi.PortCloser, error)
}

// connParams identifies a port configuration. A handle keeps its connection for as long as
// transfers use the same one.
type connParams struct {
	name string
	baud uint
	mode uint
}

type spiHandle struct {
	bus      *spiBus
	isClosed bool

	port   spi.PortCloser
	conn   spi.Conn
	params connParams
}

func (sb *spiBus) OpenHandle() (SPIHandle, error) {
	sb.mu.Lock()
	sb.openHandle = &spiHandle{bus: sb, isClosed: false}
	return sb.openHandle, nil
}

func (sb *spiBus) Close(ctx context.Context) error {
	return nil
}

// connect opens and configures the port on first use, 8 bits per word, and again only when the
// name, clock or mode change.
func (sh *spiHandle) connect(params connParams) (spi.Conn, error) {
	if sh.conn != nil && sh.params == params {
		return sh.conn, nil
	}
	if err := sh.disconnect(); err != nil {
		return nil, err
	}
	port, err := sh.bus.open(params.name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open SPI port %s", params.name)
	}
	conn, err := port.Connect(physic.Hertz*physic.Frequency(params.baud), spi.Mode(params.mode), 8)
	if err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "failed to configure SPI port %s", params.name), port.Close())
	}
	sh.port, sh.conn, sh.params = port, conn, params
	return conn, nil
}

func (sh *spiHandle) disconnect() error {
	if sh.port == nil {
		return nil
	}
	err := sh.port.Close()
	sh.port, sh.conn = nil, nil
	return err
}

func (sh *spiHandle) Xfer(ctx context.Context, baud uint, chipSelect string, mode uint, tx []byte) ([]byte, error) {
	if sh.isClosed {
		return nil, errors.New("can't use Xfer() on an already closed SPIHandle")
	}

	name := sh.bus.port
	if chipSelect != "" {
		name += "." + chipSelect
	}
	conn, err := sh.connect(connParams{name: name, baud: baud, mode: mode})
	if err != nil {
		return nil, err
	}
	rx := make([]byte, len(tx))
	if err := conn.Tx(tx, rx); err != nil {
		return nil, err
	}
	return rx, nil
}

func (sh *spiHandle) Close() error {
	if sh.isClosed {
		return nil
	}
	sh.isClosed = true
	err := sh.disconnect()
	sh.bus.mu.Unlock()
	return err
}
