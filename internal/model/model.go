package model

import (
	"strconv"
	"time"
)

// PacketRecord holds the fields extracted from a single captured packet.
// Only Timestamp is guaranteed; every other field is nil when the packet
// does not carry the layer it comes from.
type PacketRecord struct {
	Timestamp          time.Time
	SourceAddress      *string
	DestinationAddress *string
	Protocol           *uint8
	HeaderLength       *int
	Size               *int
	ControlFlags       *uint16

	// Malformed is set when the packet failed to decode and the record is
	// a best-effort reconstruction.
	Malformed bool
}

// Seconds returns the capture timestamp as floating-point Unix seconds.
func (r *PacketRecord) Seconds() float64 {
	return float64(r.Timestamp.UnixNano()) / 1e9
}

// FeatureRow is one row of the feature table. Pointer fields are null when
// their inputs were absent.
type FeatureRow struct {
	Timestamp            float64
	SourceAddress        *string
	DestinationAddress   *string
	Protocol             *uint8
	HeaderLength         *int
	Size                 *int
	ControlFlags         *string
	FlowDuration         float64
	Rate                 *float64
	SourceRate           *float64
	DestinationRate      *float64
	InterArrivalTime     float64
	SequenceNumberInFlow uint64
	Magnitude            *float64
	Radius               *float64
	RollingCovariance    *float64
	RollingVariance      *float64
	Weight               *float64
}

// Columns is the feature table schema, in column order.
var Columns = []string{
	"timestamp",
	"source_address",
	"destination_address",
	"protocol",
	"header_length",
	"size",
	"control_flags",
	"flow_duration",
	"rate",
	"source_rate",
	"destination_rate",
	"inter_arrival_time",
	"sequence_number_in_flow",
	"magnitude",
	"radius",
	"rolling_covariance",
	"rolling_variance",
	"weight",
}

// Values returns the row's fields in Columns order. Absent values are
// untyped nil so that database drivers store NULL.
func (r *FeatureRow) Values() []interface{} {
	return []interface{}{
		r.Timestamp,
		nullable(r.SourceAddress),
		nullable(r.DestinationAddress),
		nullable(r.Protocol),
		nullable(r.HeaderLength),
		nullable(r.Size),
		nullable(r.ControlFlags),
		r.FlowDuration,
		nullable(r.Rate),
		nullable(r.SourceRate),
		nullable(r.DestinationRate),
		r.InterArrivalTime,
		r.SequenceNumberInFlow,
		nullable(r.Magnitude),
		nullable(r.Radius),
		nullable(r.RollingCovariance),
		nullable(r.RollingVariance),
		nullable(r.Weight),
	}
}

// Strings renders the row as text cells in Columns order. Numbers use plain
// decimal notation and absent values become empty cells.
func (r *FeatureRow) Strings() []string {
	values := r.Values()
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = FormatValue(v)
	}
	return out
}

// FormatValue renders a single value produced by Values.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case uint8:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	default:
		return ""
	}
}

func nullable[T any](p *T) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
