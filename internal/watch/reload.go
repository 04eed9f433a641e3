// Package watch hot-reloads the policy document when its file changes.
// A reload that fails validation keeps the previous document in force;
// a running gateway never ends up without a policy.
package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ppiankov/flowgate/internal/policy"
)

// debounceDelay is how long after the last write the reload fires.
// Editors often produce several events per save.
const debounceDelay = 500 * time.Millisecond

// Reloader watches one policy file and delivers validated documents to
// a callback.
type Reloader struct {
	watcher *fsnotify.Watcher
	path    string
	apply   func(*policy.Document, string)
	log     *zap.Logger

	mu  sync.Mutex
	doc *policy.Document
}

// NewReloader loads the policy once, then watches the file. The apply
// callback receives every subsequently validated document and its hash.
func NewReloader(path string, apply func(*policy.Document, string), log *zap.Logger) (*Reloader, *policy.Document, string, error) {
	doc, hash, err := policy.LoadFile(path)
	if err != nil {
		return nil, nil, "", err
	}
	if log == nil {
		log = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, "", fmt.Errorf("watch: create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, nil, "", fmt.Errorf("watch: add %q: %w", path, err)
	}

	r := &Reloader{
		watcher: watcher,
		path:    path,
		apply:   apply,
		log:     log,
		doc:     doc,
	}
	return r, doc, hash, nil
}

// Current returns the document currently in force.
func (r *Reloader) Current() *policy.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc
}

// Run watches for file changes and reloads the policy. Blocks until
// ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, r.reload)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("watcher error", zap.Error(err))
		}
	}
}

func (r *Reloader) reload() {
	doc, hash, err := policy.LoadFile(r.path)
	if err != nil {
		r.log.Warn("policy reload rejected, previous document stays in force",
			zap.String("path", r.path),
			zap.Error(err))
		return
	}
	r.mu.Lock()
	r.doc = doc
	r.mu.Unlock()
	if r.apply != nil {
		r.apply(doc, hash)
	}
	r.log.Info("policy reloaded",
		zap.String("path", r.path),
		zap.String("policy", doc.PolicyName),
		zap.String("hash", hash))
}
