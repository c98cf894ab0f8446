package manager

import (
	"Go2FlowFeatures/internal/config"
	"Go2FlowFeatures/internal/factory"
	"Go2FlowFeatures/internal/model"
	"Go2FlowFeatures/internal/sink"
)

// BuildWriters creates the primary CSV feature table at the configured
// output path, followed by every enabled additional sink.
func BuildWriters(cfg *config.Config, ctx factory.SinkContext) ([]model.Writer, error) {
	primary, err := sink.NewCSVWriter(cfg.Extractor.OutputPath, cfg.Extractor.WriteMode, ctx.Logger)
	if err != nil {
		return nil, err
	}
	extra, err := factory.Create(cfg.Sinks, ctx)
	if err != nil {
		primary.Close()
		return nil, err
	}
	return append([]model.Writer{primary}, extra...), nil
}
