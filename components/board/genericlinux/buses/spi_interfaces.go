package buses

import (
	"context"
)

// SPI represents a shareable SPI bus on a generic Linux board.
type SPI interface {
	// OpenHandle locks the shared bus and returns a handle interface that MUST be closed when done.
	OpenHandle() (SPIHandle, error)
	Close(ctx context.Context) error
}

// SPIHandle is similar to an io handle. It MUST be closed to release the bus.
type SPIHandle interface {
	// Xfer performs a single SPI transfer, that is, the complete transaction from chipselect
	// enable to chipselect disable. The number of bytes received equals the number of bytes
	// sent. Register reads transmit the request followed by null bytes.
	Xfer(
		ctx context.Context,
		baud uint,
		chipSelect string,
		mode uint,
		tx []byte,
	) ([]byte, error)

	// Close closes the handle and releases the lock on the bus.
	Close() error
}
