// Package audit records every policy decision in a tamper-evident,
// hash-chained log. Records are redacted at construction: they carry
// value ids, label names, and content hashes, never raw values.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/ppiankov/flowgate/internal/graph"
)

// GenesisHash is the prev_hash for the first record of a new chain.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Record is one decision in the hash-chained audit log.
// All fields are scalars or slices of scalars (no map[string]any) to
// guarantee deterministic json.Marshal field order for reproducible
// hashing.
type Record struct {
	Seq         uint64          `json:"seq"`
	Timestamp   string          `json:"ts"`
	ExecutionID string          `json:"execution_id"`
	CallID      string          `json:"call_id,omitempty"`
	Tool        string          `json:"tool,omitempty"`
	Decision    string          `json:"decision"`
	RuleID      string          `json:"rule_id"`
	ValueIDs    []graph.ValueID `json:"value_ids,omitempty"`
	Labels      []string        `json:"labels,omitempty"`
	ContentHash string          `json:"content_hash,omitempty"`
	PolicyHash  string          `json:"policy_hash,omitempty"`
	DraftID     string          `json:"draft_id,omitempty"`
	Explanation string          `json:"explanation,omitempty"`
	PrevHash    string          `json:"prev_hash"`
	Hash        string          `json:"hash"`
}

// HashRecord returns "sha256:<hex>" of the record's JSON form with the
// Hash field cleared. The chain stores the result back into Hash.
func HashRecord(r Record) string {
	r.Hash = ""
	line, err := json.Marshal(r)
	if err != nil {
		// Record contains only marshalable fields; unreachable in practice.
		return GenesisHash
	}
	return HashLine(line)
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}

// HashContent hashes raw effect content for the content_hash field, so
// the audit trail can bind a decision to what was about to leave the
// boundary without retaining it.
func HashContent(content []byte) string {
	return HashLine(content)
}
