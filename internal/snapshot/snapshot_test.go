package snapshot

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ppiankov/flowgate/internal/audit"
	"github.com/ppiankov/flowgate/internal/graph"
	"github.com/ppiankov/flowgate/internal/propagate"
	"github.com/ppiankov/flowgate/internal/summary"
)

func sampleState() State {
	return State{
		ExecutionID: "exec-1",
		PolicyHash:  "sha256:abc",
		Budgets:     summary.DefaultBudgets(),
		Graph: graph.State{Values: []graph.ValueState{
			{ID: 1, Op: "source"},
		}},
		Propagate: propagate.State{Mode: propagate.Strict},
		Audit:     audit.State{BasePrev: audit.GenesisHash, PrevHash: audit.GenesisHash, NextSeq: 1},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	data, err := Encode(sampleState())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	st, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.SchemaVersion != SchemaVersion {
		t.Errorf("schema version = %d", st.SchemaVersion)
	}
	if st.ExecutionID != "exec-1" || st.Propagate.Mode != propagate.Strict {
		t.Errorf("state = %+v", st)
	}
	if len(st.Graph.Values) != 1 {
		t.Error("graph state lost")
	}
}

func TestDecodeRejectsSchemaVersion2(t *testing.T) {
	data, err := Encode(sampleState())
	if err != nil {
		t.Fatal(err)
	}
	data = bytes.Replace(data, []byte(`"schema_version":1`), []byte(`"schema_version":2`), 1)

	_, err = Decode(data)
	var verr *UnsupportedSchemaVersionError
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want UnsupportedSchemaVersionError", err)
	}
	if verr.Found != 2 {
		t.Errorf("found = %d", verr.Found)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	data, err := Encode(sampleState())
	if err != nil {
		t.Fatal(err)
	}
	data = bytes.Replace(data, []byte(`"execution_id"`), []byte(`"mystery":1,"execution_id"`), 1)
	if _, err := Decode(data); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestDecodeRejectsMissingExecutionID(t *testing.T) {
	st := sampleState()
	st.ExecutionID = ""
	data, err := Encode(st)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(data); err == nil {
		t.Fatal("missing execution id accepted")
	}
}

func TestDecodeRejectsInvalidBudgets(t *testing.T) {
	st := sampleState()
	st.Budgets.MaxValues = 0
	data, err := Encode(st)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(data); err == nil {
		t.Fatal("zero budget accepted")
	}
}
