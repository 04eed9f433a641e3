// Package snapshot serializes a suspended execution's complete IFC state
// so it can resume later, possibly in another process, with identical
// value identities and identical policy decisions. Exactly one schema
// version exists; loading any other version fails with no partial state.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ppiankov/flowgate/internal/audit"
	"github.com/ppiankov/flowgate/internal/draft"
	"github.com/ppiankov/flowgate/internal/graph"
	"github.com/ppiankov/flowgate/internal/propagate"
	"github.com/ppiankov/flowgate/internal/summary"
)

// SchemaVersion is the single snapshot schema version accepted by Load.
const SchemaVersion = 1

// UnsupportedSchemaVersionError rejects snapshots written by a different
// schema. Nothing of such a snapshot is interpreted.
type UnsupportedSchemaVersionError struct {
	Found int
}

func (e *UnsupportedSchemaVersionError) Error() string {
	return fmt.Sprintf("snapshot: unsupported schema_version %d; only %d is accepted", e.Found, SchemaVersion)
}

// State is the full serialized execution.
type State struct {
	SchemaVersion int              `json:"schema_version"`
	ExecutionID   string           `json:"execution_id"`
	PolicyHash    string           `json:"policy_hash"`
	Budgets       summary.Budgets  `json:"budgets"`
	Graph         graph.State      `json:"graph"`
	Propagate     propagate.State  `json:"propagate"`
	Audit         audit.State      `json:"audit"`
	Drafts        []draft.Draft    `json:"drafts,omitempty"`
	Unknown       []graph.ValueID  `json:"unknown,omitempty"`
	TokenIDs      []string         `json:"token_ids,omitempty"`
}

// Encode serializes a snapshot state.
func Encode(st State) ([]byte, error) {
	st.SchemaVersion = SchemaVersion
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return data, nil
}

// versionProbe reads only the schema version, so an unknown version is
// rejected before any other field is looked at.
type versionProbe struct {
	SchemaVersion int `json:"schema_version"`
}

// Decode parses a snapshot. The schema version is checked first; the
// full decode then rejects unknown fields, so a snapshot from a newer
// writer can never be silently misread.
func Decode(data []byte) (State, error) {
	var probe versionProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return State{}, fmt.Errorf("snapshot: decode: %w", err)
	}
	if probe.SchemaVersion != SchemaVersion {
		return State{}, &UnsupportedSchemaVersionError{Found: probe.SchemaVersion}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var st State
	if err := dec.Decode(&st); err != nil {
		return State{}, fmt.Errorf("snapshot: decode: %w", err)
	}
	if st.ExecutionID == "" {
		return State{}, fmt.Errorf("snapshot: missing execution_id")
	}
	if !st.Budgets.Valid() {
		return State{}, fmt.Errorf("snapshot: budgets must all be positive")
	}
	return st, nil
}
