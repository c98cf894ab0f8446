package sink

import (
	"testing"
	"time"

	"Go2FlowFeatures/internal/model"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestEncodeBatch(t *testing.T) {
	rows := sampleRows(2, 0)
	rows[1].SourceAddress = nil

	data, err := EncodeBatch("run-1", time.Unix(1700000000, 0), rows)
	if err != nil {
		t.Fatalf("EncodeBatch failed: %v", err)
	}

	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to decode message: %v", err)
	}
	if got := msg.Fields["run_id"].GetStringValue(); got != "run-1" {
		t.Errorf("run_id = %q, want run-1", got)
	}
	list := msg.Fields["rows"].GetListValue().GetValues()
	if len(list) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(list))
	}
	second := list[1].GetStructValue().GetFields()
	if len(second) != len(model.Columns) {
		t.Errorf("Each row should carry every column, got %d", len(second))
	}
	if _, isNull := second["source_address"].GetKind().(*structpb.Value_NullValue); !isNull {
		t.Errorf("Absent source address should be encoded as null")
	}
	if got := second["size"].GetNumberValue(); got != 101 {
		t.Errorf("size = %v, want 101", got)
	}
}
