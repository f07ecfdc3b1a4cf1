package metrics

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors declared in this package queue themselves from init and are
// handed to a registry by MustRegister.
var (
	mu        sync.Mutex
	pending   []prometheus.Collector
	defaultMu sync.Once
)

func register(cs ...prometheus.Collector) {
	mu.Lock()
	defer mu.Unlock()
	pending = append(pending, cs...)
}

// registerAll adds every queued collector to reg. A collector reg already
// holds is skipped, so repeated calls against one registry are harmless.
func registerAll(reg prometheus.Registerer) error {
	mu.Lock()
	defer mu.Unlock()
	for _, c := range pending {
		err := reg.Register(c)
		var dup prometheus.AlreadyRegisteredError
		if err != nil && !errors.As(err, &dup) {
			return fmt.Errorf("metrics: register collector: %w", err)
		}
	}
	return nil
}

// MustRegister wires the package collectors into the default registry.
// It panics when a name clashes with a collector registered elsewhere.
func MustRegister() {
	defaultMu.Do(func() {
		if err := registerAll(prometheus.DefaultRegisterer); err != nil {
			panic(err)
		}
	})
}
