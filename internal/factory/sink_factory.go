package factory

import (
	"fmt"
	"sort"

	"Go2FlowFeatures/internal/config"
	"Go2FlowFeatures/internal/model"

	"github.com/sirupsen/logrus"
)

// SinkContext carries what every sink factory may need besides its own
// config section.
type SinkContext struct {
	// RunID identifies the current pipeline run on remote sinks.
	RunID  string
	Logger logrus.FieldLogger
}

// SinkFactory builds a feature table writer from its sink definition.
type SinkFactory func(def config.SinkDef, ctx SinkContext) (model.Writer, error)

// registry holds the mapping of sink types to their factory functions.
var registry = make(map[string]SinkFactory)

// RegisterSink registers a new sink type with its factory function.
func RegisterSink(name string, factory SinkFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("sink type '%s' already registered", name))
	}
	registry[name] = factory
}

// SinkTypes returns the registered sink types, sorted.
func SinkTypes() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds one writer per enabled sink definition. Writers created
// before a failure are closed.
func Create(defs []config.SinkDef, ctx SinkContext) ([]model.Writer, error) {
	var writers []model.Writer

	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		ctx.Logger.WithField("type", def.Type).Info("Creating feature sink")

		factory, ok := registry[def.Type]
		if !ok {
			closeAll(writers)
			return nil, fmt.Errorf("unknown sink type: '%s'", def.Type)
		}

		w, err := factory(def, ctx)
		if err != nil {
			closeAll(writers)
			return nil, fmt.Errorf("error creating sink type '%s': %w", def.Type, err)
		}
		writers = append(writers, w)
	}

	return writers, nil
}

func closeAll(writers []model.Writer) {
	for _, w := range writers {
		_ = w.Close()
	}
}
