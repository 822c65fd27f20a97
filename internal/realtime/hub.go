package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/pagecraft/pagecraft/backend/internal/blocks"
)

var (
	errMissingStore    = errors.New("block store is required")
	errMissingAccess   = errors.New("access checker is required")
	errEmptyBatch      = fmt.Errorf("%w: empty batch", ErrValidation)
	errMissingNoteID   = fmt.Errorf("%w: note id is required", ErrValidation)
	errBatchNoteSpread = fmt.Errorf("%w: batch spans multiple notes", ErrValidation)
)

// AccessChecker is the note ownership policy consulted on join and on every
// mutating batch.
type AccessChecker interface {
	CanAccess(ctx context.Context, noteID, userID string) error
}

// Subscriber is one connected client session. Send must not block; slow
// consumers drop frames rather than stalling the room.
type Subscriber interface {
	ID() string
	UserID() string
	Send(event Event)
}

// HubConfig describes the dependencies of the protocol handler.
type HubConfig struct {
	Store    *blocks.Store
	Access   AccessChecker
	Registry *Registry
	Logger   *zap.Logger
}

// Hub is the authority boundary between clients and the block store. It
// validates ownership, persists batches, and fans the persisted result out to
// every other room member. Failures are rejected back to the caller only and
// never broadcast.
type Hub struct {
	store    *blocks.Store
	access   AccessChecker
	registry *Registry
	logger   *zap.Logger

	mu          sync.RWMutex
	subscribers map[string]Subscriber
}

// NewHub constructs the protocol handler.
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Access == nil {
		return nil, errMissingAccess
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		store:       cfg.Store,
		access:      cfg.Access,
		registry:    registry,
		logger:      logger,
		subscribers: make(map[string]Subscriber),
	}, nil
}

// Registry exposes the membership registry for diagnostics.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Connect registers a client session for broadcast delivery.
func (h *Hub) Connect(sub Subscriber) {
	h.mu.Lock()
	h.subscribers[sub.ID()] = sub
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("client_id", sub.ID()), zap.String("user_id", sub.UserID()))
}

// Disconnect is the implicit leave for a dropped connection. Idempotent; a
// client with no membership disconnects cleanly.
func (h *Hub) Disconnect(sub Subscriber) {
	h.mu.Lock()
	delete(h.subscribers, sub.ID())
	h.mu.Unlock()

	if noteID, wasMember := h.registry.Disconnect(sub.ID()); wasMember {
		h.broadcast(noteID, sub.ID(), Event{
			Name: EventUserLeft,
			Data: PresencePayload{NoteID: noteID, UserID: sub.UserID()},
		})
	}
	h.logger.Debug("client disconnected", zap.String("client_id", sub.ID()))
}

// Blocks returns the note's full block list ordered by position. Access must
// be checked by the caller.
func (h *Hub) Blocks(ctx context.Context, noteID string) ([]blocks.Block, error) {
	return h.store.FindByNote(ctx, noteID)
}

// Join validates access, switches the client into the note room (leaving any
// previous room first), and returns the note's full block list as the join
// response.
func (h *Hub) Join(ctx context.Context, sub Subscriber, noteID string) ([]blocks.Block, error) {
	if noteID == "" {
		return nil, errMissingNoteID
	}
	if err := h.access.CanAccess(ctx, noteID, sub.UserID()); err != nil {
		return nil, err
	}

	// Fetch before the membership switch: a failed fetch must leave the
	// client in its previous room, not half-joined to the new one.
	list, err := h.store.FindByNote(ctx, noteID)
	if err != nil {
		return nil, err
	}

	previous := h.registry.Join(sub.ID(), noteID)
	if previous != "" {
		h.broadcast(previous, sub.ID(), Event{
			Name: EventUserLeft,
			Data: PresencePayload{NoteID: previous, UserID: sub.UserID()},
		})
	}
	h.broadcast(noteID, sub.ID(), Event{
		Name: EventUserJoined,
		Data: PresencePayload{NoteID: noteID, UserID: sub.UserID()},
	})
	h.logger.Info("client joined note",
		zap.String("client_id", sub.ID()),
		zap.String("note_id", noteID),
		zap.Int("members", len(h.registry.MembersOf(noteID))))
	return list, nil
}

// Leave removes the client from the note room. Non-members leave silently;
// announcing them would leak presence into rooms they never entered.
func (h *Hub) Leave(_ context.Context, sub Subscriber, noteID string) {
	if !h.registry.Leave(sub.ID(), noteID) {
		return
	}
	h.broadcast(noteID, sub.ID(), Event{
		Name: EventUserLeft,
		Data: PresencePayload{NoteID: noteID, UserID: sub.UserID()},
	})
}

// CreateBlocks persists a create batch atomically and broadcasts the
// persisted records to the rest of the room.
func (h *Hub) CreateBlocks(ctx context.Context, sub Subscriber, noteID string, batch []blocks.Block) ([]blocks.Block, error) {
	if err := h.authorizeBatch(ctx, sub, noteID, batch); err != nil {
		return nil, err
	}
	for index := range batch {
		batch[index].NoteID = noteID
	}
	persisted, err := h.store.CreateMany(ctx, batch)
	if err != nil {
		return nil, err
	}
	h.broadcast(noteID, sub.ID(), Event{
		Name: EventBlocksCreated,
		Data: BlockBatchPayload{NoteID: noteID, Blocks: PayloadsFromBlocks(persisted)},
	})
	return persisted, nil
}

// UpdateBlocks persists an update batch atomically and broadcasts the
// persisted records to the rest of the room.
func (h *Hub) UpdateBlocks(ctx context.Context, sub Subscriber, noteID string, batch []blocks.Block) ([]blocks.Block, error) {
	if err := h.authorizeBatch(ctx, sub, noteID, batch); err != nil {
		return nil, err
	}
	persisted, err := h.store.UpdateMany(ctx, batch)
	if err != nil {
		return nil, err
	}
	h.broadcast(noteID, sub.ID(), Event{
		Name: EventBlocksUpdated,
		Data: BlockBatchPayload{NoteID: noteID, Blocks: PayloadsFromBlocks(persisted)},
	})
	return persisted, nil
}

// DeleteBlocks resolves the owning note from the first id, deletes the batch
// with its descendants, and broadcasts the full removed id list to the rest
// of the room.
func (h *Hub) DeleteBlocks(ctx context.Context, sub Subscriber, ids []string) (string, []string, error) {
	if len(ids) == 0 {
		return "", nil, errEmptyBatch
	}
	noteID, err := h.store.NoteOf(ctx, ids[0])
	if err != nil {
		return "", nil, err
	}
	if err := h.access.CanAccess(ctx, noteID, sub.UserID()); err != nil {
		return "", nil, err
	}
	removed, err := h.store.DeleteMany(ctx, ids)
	if err != nil {
		return "", nil, err
	}
	h.broadcast(noteID, sub.ID(), Event{
		Name: EventBlocksDeleted,
		Data: DeletePayload{NoteID: noteID, IDs: removed},
	})
	return noteID, removed, nil
}

// ReorderBlocks resolves the owning note from the first entry, persists the
// new (position, parent) pairs atomically, and broadcasts the reorder list to
// the rest of the room.
func (h *Hub) ReorderBlocks(ctx context.Context, sub Subscriber, updates []blocks.PositionUpdate) (string, error) {
	if len(updates) == 0 {
		return "", errEmptyBatch
	}
	noteID, err := h.store.NoteOf(ctx, updates[0].ID)
	if err != nil {
		return "", err
	}
	if err := h.access.CanAccess(ctx, noteID, sub.UserID()); err != nil {
		return "", err
	}
	if err := h.store.SetPositions(ctx, updates); err != nil {
		return "", err
	}
	h.broadcast(noteID, sub.ID(), Event{
		Name: EventBlocksReordered,
		Data: ReorderPayload{NoteID: noteID, Blocks: updates},
	})
	return noteID, nil
}

func (h *Hub) authorizeBatch(ctx context.Context, sub Subscriber, noteID string, batch []blocks.Block) error {
	if noteID == "" {
		return errMissingNoteID
	}
	if len(batch) == 0 {
		return errEmptyBatch
	}
	for _, block := range batch {
		if block.NoteID != "" && block.NoteID != noteID {
			return errBatchNoteSpread
		}
	}
	return h.access.CanAccess(ctx, noteID, sub.UserID())
}

// broadcast delivers the event to every room member except the sender.
// Broadcasts only fire after the underlying transaction committed, so other
// members never observe partial application.
func (h *Hub) broadcast(noteID, senderID string, event Event) {
	members := h.registry.MembersOf(noteID)
	if len(members) == 0 {
		return
	}
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(members))
	for _, clientID := range members {
		if clientID == senderID {
			continue
		}
		if sub, ok := h.subscribers[clientID]; ok {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()
	for _, target := range targets {
		target.Send(event)
	}
}
