// Package register registers every sensor backend.
package register

import (
	// register sensors.
	_ "go.sensorhub.dev/sensorhub/components/sensor/i2cregister"
	_ "go.sensorhub.dev/sensorhub/components/sensor/spiregister"
	_ "go.sensorhub.dev/sensorhub/components/sensor/sysfsattr"
)
