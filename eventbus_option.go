package stepwise

import "github.com/ZanzyTHEbar/stepwise/internal/eventbus"

// WithEventBus sets the event bus shared by async lifecycle events and the
// executors the runtime creates. It takes precedence over
// Config.EnableEventBus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(r *Runtime) {
		r.eventBus = bus
	}
}
