// Package draft implements the two-phase draft/commit pattern for
// high-consequence effects: the first boundary check produces an inert
// draft instead of the effect, and committing the draft is a separate,
// separately policy-checked operation.
package draft

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/flowgate/internal/graph"
)

// Status is the lifecycle state of a draft.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCommitted Status = "committed"
	StatusDiscarded Status = "discarded"
)

// Draft is one prepared, not-yet-performed effect.
type Draft struct {
	ID         string          `json:"id"`
	Tool       string          `json:"tool"`
	CallID     string          `json:"call_id"`
	ArgIDs     []graph.ValueID `json:"arg_ids,omitempty"`
	RuleID     string          `json:"rule_id"`
	Status     Status          `json:"status"`
	CreatedAt  int64           `json:"created_at"`
	ResolvedAt int64           `json:"resolved_at,omitempty"`
}

// NewDraftID mints a fresh draft identifier.
func NewDraftID() string {
	return "draft-" + uuid.NewString()
}

// Store holds the drafts of one execution.
type Store struct {
	mu     sync.Mutex
	drafts map[string]*Draft
}

// NewStore returns an empty draft store.
func NewStore() *Store {
	return &Store{drafts: make(map[string]*Draft)}
}

// Create registers a new pending draft and returns it.
func (s *Store) Create(tool, callID, ruleID string, argIDs []graph.ValueID) *Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &Draft{
		ID:        NewDraftID(),
		Tool:      tool,
		CallID:    callID,
		ArgIDs:    append([]graph.ValueID(nil), argIDs...),
		RuleID:    ruleID,
		Status:    StatusPending,
		CreatedAt: time.Now().Unix(),
	}
	s.drafts[d.ID] = d
	return d
}

// Get returns a copy of the draft with the given id.
func (s *Store) Get(id string) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[id]
	if !ok {
		return Draft{}, fmt.Errorf("draft: %q not found", id)
	}
	return *d, nil
}

// MarkCommitted consumes a pending draft. Consume-once: a draft that is
// already committed or discarded cannot be committed again.
func (s *Store) MarkCommitted(id string) (Draft, error) {
	return s.resolve(id, StatusCommitted)
}

// Discard abandons a pending draft.
func (s *Store) Discard(id string) (Draft, error) {
	return s.resolve(id, StatusDiscarded)
}

func (s *Store) resolve(id string, to Status) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[id]
	if !ok {
		return Draft{}, fmt.Errorf("draft: %q not found", id)
	}
	if d.Status != StatusPending {
		return Draft{}, fmt.Errorf("draft: %q already %s", id, d.Status)
	}
	d.Status = to
	d.ResolvedAt = time.Now().Unix()
	return *d, nil
}

// List returns all drafts sorted by id.
func (s *Store) List() []Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Draft, 0, len(s.drafts))
	for _, d := range s.drafts {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Export captures all drafts for a snapshot, sorted by id.
func (s *Store) Export() []Draft {
	return s.List()
}

// Restore rebuilds a store from exported drafts.
func Restore(drafts []Draft) *Store {
	st := NewStore()
	for i := range drafts {
		d := drafts[i]
		st.drafts[d.ID] = &d
	}
	return st
}
