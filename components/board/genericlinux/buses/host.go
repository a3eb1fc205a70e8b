package buses

import (
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/host/v3"
)

var (
	hostOnce sync.Once
	hostErr  error
)

// initHost loads the periph host drivers, which register the sysfs I2C and SPI ports. It is
// safe to call repeatedly.
func initHost() error {
	hostOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			hostErr = errors.Wrap(err, "failed to initialize periph host drivers")
		}
	})
	return hostErr
}
