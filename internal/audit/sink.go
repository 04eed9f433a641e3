package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sink is an append-only JSONL file carrying sealed audit records.
// Records arrive already hashed and chained by the Chain, so the sink
// only serializes and syncs.
type Sink struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// OpenSink opens (or creates) an audit sink file for appending.
func OpenSink(path string) (*Sink, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}
	return &Sink{path: path, file: file}, nil
}

// Write appends one sealed record as a JSON line and syncs to disk.
func (s *Sink) Write(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write record: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// VerifyResult holds the outcome of a file chain verification.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// VerifyFile reads a JSONL audit file and validates the hash chain from
// genesis. Returns Valid=true if the chain is intact, or details about
// the first broken link.
func VerifyFile(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	prev := GenesisHash

	for scanner.Scan() {
		lineNum++
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			return VerifyResult{
				Error:     fmt.Sprintf("parse error: %v", err),
				ErrorLine: lineNum,
			}
		}
		if r.PrevHash != prev {
			return VerifyResult{
				Error:     fmt.Sprintf("hash mismatch: expected prev %s, got %s", prev, r.PrevHash),
				ErrorLine: lineNum,
			}
		}
		if got := HashRecord(r); got != r.Hash {
			return VerifyResult{
				Error:     fmt.Sprintf("record hash mismatch: expected %s, got %s", got, r.Hash),
				ErrorLine: lineNum,
			}
		}
		prev = r.Hash
	}

	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}
	return VerifyResult{Valid: true, Lines: lineNum}
}
