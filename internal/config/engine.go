package config

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"tidecast/internal/errtax"
)

// Engine owns the active configuration tree and coordinates reloads.
// Active and Reload are safe for concurrent use: Active takes a read lock,
// Reload takes a write lock only for the brief pointer swap at the end,
// after parsing and diffing (the expensive part) have already happened
// outside any lock.
type Engine struct {
	path        string
	reader      FileReader
	envOnly     bool
	mu          sync.RWMutex
	active      *Directive
	subscribers []Subscriber
	group       singleflight.Group
}

// NewEngine constructs an Engine bound to path, resolving includes through
// reader. The initial tree is not loaded; call Load before Active.
func NewEngine(path string, reader FileReader) *Engine {
	return &Engine{path: path, reader: reader}
}

// SetEnvOnly marks the engine as running in env-only mode (the -e/--env-only
// CLI flag): Validate no longer requires a top-level listen directive,
// since every listener address is expected to come from the environment
// instead. Call before the first Load.
func (e *Engine) SetEnvOnly(envOnly bool) {
	e.envOnly = envOnly
}

// Subscribe registers sub to be notified of future reloads. Subscribe is
// not safe to call concurrently with Reload; register every subscriber
// during startup before the first reload can occur.
func (e *Engine) Subscribe(sub Subscriber) {
	e.subscribers = append(e.subscribers, sub)
}

// Load parses, transforms, and validates the configuration at e.path, and
// installs the result as the initial active tree. It must be called
// exactly once, before the server starts accepting connections.
func (e *Engine) Load() error {
	tree, err := e.parseTransformValidate()
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.active = tree
	e.mu.Unlock()
	return nil
}

// Active returns the currently active configuration tree. Callers must
// not mutate the returned tree; clone it first if a mutable copy is
// needed.
func (e *Engine) Active() *Directive {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

// Reload re-reads, transforms, and validates the configuration file,
// diffs it against the active tree, swaps the candidate in as active, and
// only then dispatches the resulting changes to every subscriber.
// Concurrent Reload calls are coalesced via singleflight so a reload
// triggered by both a signal and a filesystem watch event in quick
// succession only does the work once.
//
// Swap-before-dispatch matches spec §4.5 step 1 ("swap in the new tree as
// active; keep the previous tree as old for the duration of the diff"): a
// subscriber that rejects a change aborts the rest of dispatch, but the
// candidate tree stays active rather than being rolled back. This is
// spec §4.5's documented imperfect-atomicity point — the caller (the
// signal handler) logs the error and continues serving the already-
// swapped tree.
func (e *Engine) Reload() ([]Change, error) {
	v, err, _ := e.group.Do("reload", func() (interface{}, error) {
		candidate, err := e.parseTransformValidate()
		if err != nil {
			return nil, err
		}

		old := e.Active()
		changes, err := Diff(old, candidate)
		if err != nil {
			return nil, err
		}
		if len(changes) == 0 {
			return []Change{}, nil
		}

		e.mu.Lock()
		e.active = candidate
		e.mu.Unlock()

		if err := Dispatch(changes, e.subscribers); err != nil {
			return nil, err
		}
		return changes, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Change), nil
}

func (e *Engine) parseTransformValidate() (*Directive, error) {
	data, err := e.reader.ReadFile(e.path)
	if err != nil {
		return nil, errtax.Wrap(errtax.SystemConfigInvalid, "", "read config file "+e.path, err)
	}
	root, err := ParseWithReader(data, e.reader)
	if err != nil {
		return nil, err
	}
	transformed := Transform(root)
	if err := Validate(transformed, e.envOnly); err != nil {
		return nil, err
	}
	return transformed, nil
}
