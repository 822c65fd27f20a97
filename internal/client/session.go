package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/pagecraft/pagecraft/backend/internal/blocks"
	"github.com/pagecraft/pagecraft/backend/internal/realtime"
)

// State tracks the lifecycle of a note collaboration session.
type State int

const (
	StateIdle State = iota
	StateJoined
	StateEditing
	StateReconciling
	StateLeft
)

var (
	// ErrNotJoined indicates an operation that requires an active session.
	ErrNotJoined = errors.New("client: session not joined")
	// ErrAlreadyJoined indicates Join was called on a live session.
	ErrAlreadyJoined = errors.New("client: session already joined")

	errMissingNoteID    = errors.New("client: note id is required")
	errMissingTransport = errors.New("client: transport is required")
)

// Transport is the client's view of the synchronization protocol handler.
// Every call returns only after the server acknowledged the batch.
type Transport interface {
	Join(ctx context.Context, noteID string) ([]blocks.Block, error)
	Leave(ctx context.Context, noteID string) error
	CreateBlocks(ctx context.Context, noteID string, batch []blocks.Block) ([]blocks.Block, error)
	UpdateBlocks(ctx context.Context, noteID string, batch []blocks.Block) ([]blocks.Block, error)
	DeleteBlocks(ctx context.Context, noteID string, ids []string) error
	ReorderBlocks(ctx context.Context, noteID string, updates []blocks.PositionUpdate) error
}

// SessionConfig describes one note editing session.
type SessionConfig struct {
	NoteID    string
	Transport Transport
	// OnDocument receives the rebuilt tree after every merge. The editor
	// widget replaces its whole document; block identity is preserved by id.
	OnDocument func([]*blocks.Node)
	Logger     *zap.Logger
}

// Session is the per-note reconciliation engine running inside a connected
// client. It diffs the editor's tree against the last-synced snapshot to
// produce minimal batches, and merges remote broadcasts back into local
// state. The hub never echoes a sender's own batch, so no echo filtering
// happens here.
type Session struct {
	noteID     string
	transport  Transport
	onDocument func([]*blocks.Node)
	logger     *zap.Logger

	mu          sync.Mutex
	state       State
	snapshot    []blocks.Block
	reconciling bool
	pending     []*blocks.Node
}

// NewSession constructs an idle session for one note.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.NoteID == "" {
		return nil, errMissingNoteID
	}
	if cfg.Transport == nil {
		return nil, errMissingTransport
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	onDocument := cfg.OnDocument
	if onDocument == nil {
		onDocument = func([]*blocks.Node) {}
	}
	return &Session{
		noteID:     cfg.NoteID,
		transport:  cfg.Transport,
		onDocument: onDocument,
		logger:     logger,
		state:      StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the last-synced block list.
func (s *Session) Snapshot() []blocks.Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]blocks.Block(nil), s.snapshot...)
}

// Join requests the full block list, seeds the snapshot, and pushes the
// initial tree into the editor.
func (s *Session) Join(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateJoined || s.state == StateEditing || s.state == StateReconciling {
		s.mu.Unlock()
		return ErrAlreadyJoined
	}
	s.mu.Unlock()

	list, err := s.transport.Join(ctx, s.noteID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.snapshot = append([]blocks.Block(nil), list...)
	s.state = StateJoined
	tree := blocks.Unflatten(s.snapshot)
	s.mu.Unlock()

	s.onDocument(tree)
	return nil
}

// Leave discards the snapshot and ends the session.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateLeft {
		s.mu.Unlock()
		return nil
	}
	s.state = StateLeft
	s.snapshot = nil
	s.pending = nil
	s.mu.Unlock()

	return s.transport.Leave(ctx, s.noteID)
}

// Reconcile diffs the editor's current tree against the snapshot and emits
// the resulting batches in create, update, delete, reorder order. A tree
// arriving while a pass is in flight coalesces into the next pass instead of
// racing against a stale snapshot.
func (s *Session) Reconcile(ctx context.Context, tree []*blocks.Node) error {
	s.mu.Lock()
	switch s.state {
	case StateJoined, StateEditing, StateReconciling:
	default:
		s.mu.Unlock()
		return ErrNotJoined
	}
	if s.reconciling {
		s.pending = tree
		s.state = StateEditing
		s.mu.Unlock()
		return nil
	}
	s.reconciling = true
	s.state = StateReconciling
	s.mu.Unlock()

	var firstErr error
	for {
		if err := s.reconcileOnce(ctx, tree); err != nil && firstErr == nil {
			firstErr = err
		}

		s.mu.Lock()
		if s.pending != nil {
			tree = s.pending
			s.pending = nil
			s.mu.Unlock()
			continue
		}
		s.reconciling = false
		if s.state == StateReconciling {
			s.state = StateJoined
		}
		s.mu.Unlock()
		return firstErr
	}
}

func (s *Session) reconcileOnce(ctx context.Context, tree []*blocks.Node) error {
	flat := blocks.Flatten(dropTrailingPlaceholder(tree), s.noteID)

	s.mu.Lock()
	changes := blocks.Diff(s.snapshot, flat)
	s.mu.Unlock()

	if changes.Empty() {
		return nil
	}

	// The snapshot advances only on acknowledgment, never speculatively.
	if len(changes.Creates) > 0 {
		persisted, err := s.transport.CreateBlocks(ctx, s.noteID, changes.Creates)
		if err != nil {
			return err
		}
		s.mergeCreated(persisted)
	}
	if len(changes.Updates) > 0 {
		persisted, err := s.transport.UpdateBlocks(ctx, s.noteID, changes.Updates)
		if err != nil {
			return err
		}
		s.mergeUpdated(persisted)
	}
	if len(changes.Deletes) > 0 {
		if err := s.transport.DeleteBlocks(ctx, s.noteID, changes.Deletes); err != nil {
			return err
		}
		s.mergeDeleted(changes.Deletes)
	}
	if len(changes.Reorders) > 0 {
		if err := s.transport.ReorderBlocks(ctx, s.noteID, changes.Reorders); err != nil {
			return err
		}
		s.mergeReordered(changes.Reorders)
	}
	return nil
}

// ApplyRemote merges a broadcast from another room member into the snapshot,
// rebuilds the tree, and pushes it into the editor.
func (s *Session) ApplyRemote(event string, data json.RawMessage) error {
	s.mu.Lock()
	live := s.state == StateJoined || s.state == StateEditing || s.state == StateReconciling
	s.mu.Unlock()
	if !live {
		return ErrNotJoined
	}

	switch event {
	case realtime.EventBlocksCreated:
		var payload realtime.BlockBatchPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("client: malformed %s payload: %w", event, err)
		}
		s.mergeCreated(realtime.ModelsFromPayloads(payload.Blocks))

	case realtime.EventBlocksUpdated:
		var payload realtime.BlockBatchPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("client: malformed %s payload: %w", event, err)
		}
		s.mergeUpdated(realtime.ModelsFromPayloads(payload.Blocks))

	case realtime.EventBlocksDeleted:
		var payload realtime.DeletePayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("client: malformed %s payload: %w", event, err)
		}
		s.mergeDeleted(payload.IDs)

	case realtime.EventBlocksReordered:
		var payload realtime.ReorderPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("client: malformed %s payload: %w", event, err)
		}
		s.mergeReordered(payload.Blocks)

	case realtime.EventUserJoined, realtime.EventUserLeft:
		// Presence only; no block state to merge.
		return nil

	default:
		s.logger.Debug("ignoring unknown remote event", zap.String("event", event))
		return nil
	}

	s.publish()
	return nil
}

// mergeCreated appends acknowledged creates to the snapshot.
func (s *Session) mergeCreated(created []blocks.Block) {
	s.mu.Lock()
	s.snapshot = append(s.snapshot, created...)
	s.mu.Unlock()
}

// mergeUpdated replaces matching entries by id.
func (s *Session) mergeUpdated(updated []blocks.Block) {
	s.mu.Lock()
	byID := make(map[string]blocks.Block, len(updated))
	for _, block := range updated {
		byID[block.ID] = block
	}
	for index, block := range s.snapshot {
		if replacement, ok := byID[block.ID]; ok {
			s.snapshot[index] = replacement
		}
	}
	s.mu.Unlock()
}

// mergeDeleted removes the ids and every descendant whose parent chain
// resolves to a deleted id, mirroring the server-side cascade.
func (s *Session) mergeDeleted(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := make(map[string]bool, len(ids))
	for _, id := range ids {
		deleted[id] = true
	}
	for changed := true; changed; {
		changed = false
		for _, block := range s.snapshot {
			if deleted[block.ID] {
				continue
			}
			if block.ParentID != nil && deleted[*block.ParentID] {
				deleted[block.ID] = true
				changed = true
			}
		}
	}

	kept := s.snapshot[:0]
	for _, block := range s.snapshot {
		if !deleted[block.ID] {
			kept = append(kept, block)
		}
	}
	s.snapshot = kept
}

// mergeReordered applies the provided ordering verbatim and renormalizes the
// snapshot to the codec's depth-first order.
func (s *Session) mergeReordered(updates []blocks.PositionUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := make(map[string]blocks.PositionUpdate, len(updates))
	for _, update := range updates {
		byID[update.ID] = update
	}
	for index := range s.snapshot {
		if update, ok := byID[s.snapshot[index].ID]; ok {
			s.snapshot[index].Position = update.Position
			s.snapshot[index].ParentID = update.ParentID
		}
	}
	s.snapshot = blocks.Flatten(blocks.Unflatten(s.snapshot), s.noteID)
}

func (s *Session) publish() {
	s.mu.Lock()
	tree := blocks.Unflatten(s.snapshot)
	s.mu.Unlock()
	s.onDocument(tree)
}

// dropTrailingPlaceholder strips the empty trailing node some editor widgets
// always append. It is never persisted.
func dropTrailingPlaceholder(tree []*blocks.Node) []*blocks.Node {
	if len(tree) == 0 {
		return tree
	}
	last := tree[len(tree)-1]
	if last == nil {
		return tree[:len(tree)-1]
	}
	if last.ID == "" && len(last.Children) == 0 && emptyContent(last.Content) {
		return tree[: len(tree)-1 : len(tree)-1]
	}
	return tree
}

func emptyContent(raw json.RawMessage) bool {
	switch string(raw) {
	case "", "[]", "null", `""`:
		return true
	default:
		return false
	}
}
