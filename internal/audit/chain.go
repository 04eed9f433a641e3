package audit

import (
	"fmt"
	"sync"
	"time"
)

// ChainCorruptionError reports the first broken link found during
// verification.
type ChainCorruptionError struct {
	Seq    uint64
	Reason string
}

func (e *ChainCorruptionError) Error() string {
	return fmt.Sprintf("audit: chain corrupt at seq %d: %s", e.Seq, e.Reason)
}

// Chain is the bounded in-memory audit chain for one execution. Appends
// assign sequence numbers and link each record to its predecessor's
// hash. When the bound is reached the oldest records are evicted; the
// retained suffix stays independently verifiable because the chain
// remembers the hash the suffix starts from.
type Chain struct {
	mu        sync.Mutex
	records   []Record
	prevHash  string
	basePrev  string
	nextSeq   uint64
	dropped   uint64
	maxKept   int
	execution string
	sink      *Sink
}

// NewChain starts a fresh chain for an execution. maxKept bounds the
// in-memory record count; zero or negative means unbounded. A non-nil
// sink receives every appended record.
func NewChain(executionID string, maxKept int, sink *Sink) *Chain {
	return &Chain{
		prevHash:  GenesisHash,
		basePrev:  GenesisHash,
		nextSeq:   1,
		maxKept:   maxKept,
		execution: executionID,
		sink:      sink,
	}
}

// Append seals a record onto the chain: it assigns the sequence number,
// timestamp, and previous hash, computes the record hash, and stores it.
// The caller fills the decision fields only.
func (c *Chain) Append(r Record) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r.Seq = c.nextSeq
	if r.Timestamp == "" {
		r.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	}
	if r.ExecutionID == "" {
		r.ExecutionID = c.execution
	}
	r.PrevHash = c.prevHash
	r.Hash = HashRecord(r)

	c.records = append(c.records, r)
	c.prevHash = r.Hash
	c.nextSeq++

	if c.maxKept > 0 && len(c.records) > c.maxKept {
		evict := len(c.records) - c.maxKept
		c.basePrev = c.records[evict-1].Hash
		c.records = append([]Record(nil), c.records[evict:]...)
		c.dropped += uint64(evict)
	}

	if c.sink != nil {
		if err := c.sink.Write(r); err != nil {
			return r, err
		}
	}
	return r, nil
}

// Records returns a copy of the retained records.
func (c *Chain) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Record(nil), c.records...)
}

// Dropped returns how many records have been evicted from memory.
// Evicted records remain in the sink file if one was attached.
func (c *Chain) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Head returns the hash of the most recent record, or the genesis hash
// for an empty chain.
func (c *Chain) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prevHash
}

// Verify checks the retained suffix of the chain.
func (c *Chain) Verify() error {
	c.mu.Lock()
	records := append([]Record(nil), c.records...)
	base := c.basePrev
	c.mu.Unlock()
	return VerifyRecords(records, base)
}

// VerifyRecords validates a record sequence against the hash it should
// start from. It recomputes every record hash and checks each link, so
// a single flipped byte anywhere in a stored record is detected.
func VerifyRecords(records []Record, basePrev string) error {
	prev := basePrev
	for i, r := range records {
		if r.PrevHash != prev {
			return &ChainCorruptionError{Seq: r.Seq, Reason: fmt.Sprintf("prev_hash %s does not match %s", r.PrevHash, prev)}
		}
		if got := HashRecord(r); got != r.Hash {
			return &ChainCorruptionError{Seq: r.Seq, Reason: fmt.Sprintf("stored hash %s does not match recomputed %s", r.Hash, got)}
		}
		if i > 0 && r.Seq != records[i-1].Seq+1 {
			return &ChainCorruptionError{Seq: r.Seq, Reason: fmt.Sprintf("sequence gap after %d", records[i-1].Seq)}
		}
		prev = r.Hash
	}
	return nil
}

// State is the serialized chain for snapshots. Only the retained suffix
// travels; verification of the suffix needs BasePrev.
type State struct {
	Records  []Record `json:"records,omitempty"`
	BasePrev string   `json:"base_prev"`
	PrevHash string   `json:"prev_hash"`
	NextSeq  uint64   `json:"next_seq"`
	Dropped  uint64   `json:"dropped,omitempty"`
}

// Export captures the chain for a snapshot.
func (c *Chain) Export() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Records:  append([]Record(nil), c.records...),
		BasePrev: c.basePrev,
		PrevHash: c.prevHash,
		NextSeq:  c.nextSeq,
		Dropped:  c.dropped,
	}
}

// Restore rebuilds a chain from snapshot state, verifying the suffix
// before accepting it. A corrupt snapshot chain is rejected outright.
func Restore(executionID string, st State, maxKept int, sink *Sink) (*Chain, error) {
	if err := VerifyRecords(st.Records, st.BasePrev); err != nil {
		return nil, err
	}
	head := st.BasePrev
	if n := len(st.Records); n > 0 {
		head = st.Records[n-1].Hash
	}
	if st.PrevHash != head {
		return nil, &ChainCorruptionError{Seq: st.NextSeq, Reason: "snapshot head does not match last record"}
	}
	return &Chain{
		records:   append([]Record(nil), st.Records...),
		prevHash:  st.PrevHash,
		basePrev:  st.BasePrev,
		nextSeq:   st.NextSeq,
		dropped:   st.Dropped,
		maxKept:   maxKept,
		execution: executionID,
		sink:      sink,
	}, nil
}
