package engine

import (
	"sync"
	"time"
)

// Status is the lifecycle status of a node within one execution. Per
// execution ID the status only moves forward: pending, running, then exactly
// one of success, error, or skipped.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// Terminal reports whether the status is one of the three final states.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusSkipped
}

// AccumulatedInput is one entry of a merger node's accumulated list: the
// classified value together with the node it originated from.
type AccumulatedInput struct {
	Value        any
	SourceNodeID string
}

// NodeState is the mutable execution state of a single node. States are
// created lazily on first reference and overwritten by subsequent runs or an
// explicit reset.
type NodeState struct {
	Status Status

	// Result is the opaque value produced on success.
	Result any

	// Error carries the failure message when Status is StatusError.
	Error string

	// ExecutionID stamps the run that last wrote this state.
	ExecutionID string

	// ActiveOutputHandle is set only by conditional nodes on success and
	// names the single output handle the conditional activated.
	ActiveOutputHandle string

	// AccumulatedInputs is set only by merger nodes and persists across
	// repeated dispatches within the same execution until an explicit reset.
	AccumulatedInputs []AccumulatedInput

	LastUpdate time.Time
}

// Update is a partial write applied to a NodeState. Zero-valued fields leave
// the corresponding state field unchanged; the Has* flags distinguish "set to
// zero value" from "leave alone" for fields whose zero value is meaningful.
type Update struct {
	Status Status

	Result    any
	HasResult bool

	Error    string
	HasError bool

	ActiveOutputHandle string
	HasActiveHandle    bool

	AccumulatedInputs []AccumulatedInput
	HasAccumulated    bool
}

// Store is a thread-safe key-value map from node ID to NodeState.
//
// Execution IDs are opaque and unordered, so the store assigns each
// registered execution a monotonically increasing generation. A write
// carrying a generation older than the one last applied to a node is a stale
// completion from a superseded run and is discarded rather than applied.
type Store struct {
	mu sync.RWMutex

	states map[string]NodeState

	// generations maps execution ID to its assigned generation.
	generations map[string]uint64
	nextGen     uint64

	// nodeGen records, per node, the generation of the last applied write.
	// It survives Reset so that late completions from superseded runs stay
	// detectable after the state itself was cleared.
	nodeGen map[string]uint64
}

// NewStore creates an empty node state store.
func NewStore() *Store {
	return &Store{
		states:      make(map[string]NodeState),
		generations: make(map[string]uint64),
		nodeGen:     make(map[string]uint64),
	}
}

// RegisterExecution assigns a generation to the given execution ID. Later
// registrations receive strictly larger generations. Registering the same ID
// twice is a no-op.
func (s *Store) RegisterExecution(executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registerLocked(executionID)
}

func (s *Store) registerLocked(executionID string) uint64 {
	if gen, ok := s.generations[executionID]; ok {
		return gen
	}
	s.nextGen++
	s.generations[executionID] = s.nextGen
	return s.nextGen
}

// Get returns the state of the given node. Unknown nodes read as pending:
// states are created lazily on first write.
func (s *Store) Get(id string) NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[id]
	if !ok {
		return NodeState{Status: StatusPending}
	}
	return state
}

// Set merge-writes the update into the node's state, stamping the execution
// ID. It returns false and leaves the state untouched when the write is
// stale: either its execution generation is older than the node's last
// applied one, or it would regress a terminal status within the same
// execution.
func (s *Store) Set(id string, executionID string, update Update) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen := s.registerLocked(executionID)
	if gen < s.nodeGen[id] {
		return false
	}

	state, ok := s.states[id]
	if !ok {
		state = NodeState{Status: StatusPending}
	}

	if gen == s.nodeGen[id] && state.Status.Terminal() &&
		(update.Status == StatusPending || update.Status == StatusRunning) {
		return false
	}

	if update.Status != "" {
		state.Status = update.Status
	}
	if update.HasResult {
		state.Result = update.Result
	}
	if update.HasError {
		state.Error = update.Error
	}
	if update.HasActiveHandle {
		state.ActiveOutputHandle = update.ActiveOutputHandle
	}
	if update.HasAccumulated {
		state.AccumulatedInputs = update.AccumulatedInputs
	}
	state.ExecutionID = executionID
	state.LastUpdate = time.Now()

	s.states[id] = state
	s.nodeGen[id] = gen
	return true
}

// Reset clears the state of the given nodes, or every node when no IDs are
// supplied. The per-node write generations are retained so that stale
// completions from superseded runs remain discardable after the reset.
func (s *Store) Reset(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ids) == 0 {
		s.states = make(map[string]NodeState)
		return
	}
	for _, id := range ids {
		delete(s.states, id)
	}
}

// Snapshot returns a copy of all node states, keyed by node ID. Used for
// run-end reporting; mutating the copy does not affect the store.
func (s *Store) Snapshot() map[string]NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string]NodeState, len(s.states))
	for id, state := range s.states {
		snapshot[id] = state
	}
	return snapshot
}
