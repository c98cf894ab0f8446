package features

import (
	"fmt"
	"math"

	"Go2FlowFeatures/internal/engine/flowaggregator"
	"Go2FlowFeatures/internal/engine/protocol"
	"Go2FlowFeatures/internal/model"

	"github.com/sirupsen/logrus"
)

// Epsilon is added to time deltas before dividing by them.
const Epsilon = 1e-9

// Calculator turns packet records into feature rows using the running state
// of an aggregator.
type Calculator struct {
	agg *flowaggregator.Aggregator
	log logrus.FieldLogger
}

// NewCalculator creates a calculator bound to agg.
func NewCalculator(agg *flowaggregator.Aggregator, logger logrus.FieldLogger) *Calculator {
	return &Calculator{agg: agg, log: logger}
}

// Aggregator returns the state the calculator feeds from.
func (c *Calculator) Aggregator() *flowaggregator.Aggregator {
	return c.agg
}

// ComputeBatch computes one row per record, in order.
func (c *Calculator) ComputeBatch(records []*model.PacketRecord) []model.FeatureRow {
	rows := make([]model.FeatureRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, c.Compute(rec))
	}
	return rows
}

// Compute folds rec into the aggregator and derives its feature row.
// Features whose inputs are absent are left nil.
func (c *Calculator) Compute(rec *model.PacketRecord) model.FeatureRow {
	obs := c.agg.Observe(rec)
	delta := obs.Delta.Seconds()

	row := model.FeatureRow{
		Timestamp:            rec.Seconds(),
		SourceAddress:        rec.SourceAddress,
		DestinationAddress:   rec.DestinationAddress,
		Protocol:             rec.Protocol,
		HeaderLength:         rec.HeaderLength,
		Size:                 rec.Size,
		FlowDuration:         delta,
		InterArrivalTime:     delta,
		SequenceNumberInFlow: obs.Sequence,
	}
	if rec.ControlFlags != nil {
		flags := protocol.FlagString(*rec.ControlFlags)
		row.ControlFlags = &flags
	}

	if rec.Size != nil {
		size := float64(*rec.Size)
		rate := size / (delta + Epsilon)
		row.Rate = c.finite(rec, "rate", rate)
		if row.Rate != nil {
			if rec.SourceAddress != nil {
				row.SourceRate = c.finite(rec, "source_rate", rate)
			}
			if rec.DestinationAddress != nil {
				row.DestinationRate = c.finite(rec, "destination_rate", rate)
			}
			row.Magnitude = c.finite(rec, "magnitude", size*rate)
			row.Radius = c.finite(rec, "radius", math.Sqrt(size*size+rate*rate))
		}
		row.Weight = c.finite(rec, "weight", size*float64(obs.Sequence))
	}

	if obs.WindowFull && obs.Window[0] != nil && obs.Window[1] != nil {
		variance := sampleVariance(float64(*obs.Window[0]), float64(*obs.Window[1]))
		row.RollingVariance = c.finite(rec, "rolling_variance", variance)
		// The window holds a single series, so its covariance with itself
		// is its variance.
		row.RollingCovariance = c.finite(rec, "rolling_covariance", variance)
	}
	return row
}

// finite returns a pointer to v, or nil with a diagnostic when v is NaN or infinite.
func (c *Calculator) finite(rec *model.PacketRecord, feature string, v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		c.log.WithFields(logrus.Fields{
			"timestamp": rec.Timestamp.Format("2006-01-02 15:04:05.000000"),
			"feature":   feature,
			"error":     fmt.Errorf("%w: non-finite value %v", model.ErrFeatureComputation, v),
		}).Warn("Error computing feature, leaving it empty")
		return nil
	}
	return &v
}

// sampleVariance is the n-1 variance of two observations.
func sampleVariance(a, b float64) float64 {
	d := a - b
	return d * d / 2
}
