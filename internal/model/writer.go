package model

// Writer defines a generic interface for persisting feature rows.
type Writer interface {
	// Name identifies the writer in logs and status output.
	Name() string

	// Write persists one batch of rows, in order.
	Write(rows []FeatureRow) error

	// Close releases the writer's resources.
	Close() error
}
