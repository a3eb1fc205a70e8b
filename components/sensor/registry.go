package sensor

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.sensorhub.dev/sensorhub/logging"
	"go.sensorhub.dev/sensorhub/metrics"
	"go.sensorhub.dev/sensorhub/utils"
)

// Params carries what every backend constructor needs besides its own configuration.
type Params struct {
	Logger   logging.Logger
	Clock    clock.Clock
	Recorder metrics.Recorder
}

// Validate fills in defaults and checks that the required parameters are set.
func (p *Params) Validate() error {
	if p.Logger == nil {
		return errors.New("missing required parameter logger")
	}
	if p.Clock == nil {
		p.Clock = clock.New()
	}
	p.Recorder = metrics.OrNoOp(p.Recorder)
	return nil
}

// Constructor builds a Task from backend specific configuration. It opens the hardware
// resource but does not initialize it.
type Constructor func(ctx context.Context, conf interface{}, params Params) (Task, error)

var (
	registryMu sync.RWMutex
	registry   = map[Source]Constructor{}
)

// Register registers the constructor for `source`. Registering a source twice panics.
func Register(source Source, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, old := registry[source]; old {
		panic(errors.Errorf("trying to register two constructors for sensor source %s", source))
	}
	registry[source] = c
}

// Lookup returns the constructor registered for `source`.
func Lookup(source Source) (Constructor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[source]
	return c, ok
}

// New constructs the task for `source` using the registered constructor.
func New(ctx context.Context, source Source, conf interface{}, params Params) (Task, error) {
	c, ok := Lookup(source)
	if !ok {
		return nil, utils.NewUnregisteredError("sensor", source.String())
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	task, err := c(ctx, conf, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to construct %s sensor", source)
	}
	return task, nil
}
