package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pagecraft/pagecraft/backend/internal/blocks"
	"github.com/pagecraft/pagecraft/backend/internal/notes"
)

// Inbound message names accepted from clients.
const (
	MessageJoinNote      = "joinNote"
	MessageLeaveNote     = "leaveNote"
	MessageCreateBlocks  = "createBlocks"
	MessageUpdateBlocks  = "updateBlocks"
	MessageDeleteBlocks  = "deleteBlocks"
	MessageReorderBlocks = "reorderBlocks"
)

// Outbound event names emitted to clients.
const (
	EventJoinedNote      = "joinedNote"
	EventBlocksCreated   = "blocksCreated"
	EventBlocksUpdated   = "blocksUpdated"
	EventBlocksDeleted   = "blocksDeleted"
	EventBlocksReordered = "blocksReordered"
	EventUserJoined      = "userJoined"
	EventUserLeft        = "userLeft"
	EventError           = "error"
)

// ErrValidation indicates an inbound message had an unrecognized or malformed
// shape. Rejected at the boundary before reaching the hub.
var ErrValidation = errors.New("realtime: invalid message payload")

// Envelope is the tagged wire frame carried over the socket in both
// directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound frame before encoding.
type Event struct {
	Name string
	Data interface{}
}

// Encode serializes an outbound event into its wire envelope.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: e.Name, Data: data})
}

// BlockPayload is the wire shape of a block. Content and props travel in
// their serialized persisted form; this layer never interprets them.
type BlockPayload struct {
	ID       string  `json:"id"`
	NoteID   string  `json:"note_id"`
	ParentID *string `json:"parent_id"`
	Type     string  `json:"type"`
	Content  string  `json:"content"`
	Props    string  `json:"props"`
	Position int     `json:"position"`
}

// NotePayload scopes a message to one note.
type NotePayload struct {
	NoteID string `json:"note_id"`
}

// BlockBatchPayload carries a create or update batch.
type BlockBatchPayload struct {
	NoteID string         `json:"note_id"`
	Blocks []BlockPayload `json:"blocks"`
}

// DeletePayload carries a delete batch. All ids are assumed to belong to one
// note.
type DeletePayload struct {
	NoteID string   `json:"note_id,omitempty"`
	IDs    []string `json:"ids"`
}

// ReorderPayload carries a reorder batch.
type ReorderPayload struct {
	NoteID string                  `json:"note_id,omitempty"`
	Blocks []blocks.PositionUpdate `json:"blocks"`
}

// JoinedPayload is the join response: the full current block list of the
// note, ordered by position.
type JoinedPayload struct {
	NoteID string         `json:"note_id"`
	Blocks []BlockPayload `json:"blocks"`
}

// PresencePayload announces a user entering or leaving a room.
type PresencePayload struct {
	NoteID string `json:"note_id"`
	UserID string `json:"user_id"`
}

// ErrorPayload reports a rejected operation to the originating client only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ToModel converts a wire payload to the persisted representation.
func (p BlockPayload) ToModel() blocks.Block {
	return blocks.Block{
		ID:       p.ID,
		NoteID:   p.NoteID,
		ParentID: p.ParentID,
		Type:     p.Type,
		Content:  p.Content,
		Props:    p.Props,
		Position: p.Position,
	}
}

// PayloadFromBlock converts a persisted block to its wire shape.
func PayloadFromBlock(block blocks.Block) BlockPayload {
	return BlockPayload{
		ID:       block.ID,
		NoteID:   block.NoteID,
		ParentID: block.ParentID,
		Type:     block.Type,
		Content:  block.Content,
		Props:    block.Props,
		Position: block.Position,
	}
}

// PayloadsFromBlocks converts a persisted batch to its wire shape.
func PayloadsFromBlocks(list []blocks.Block) []BlockPayload {
	payloads := make([]BlockPayload, 0, len(list))
	for _, block := range list {
		payloads = append(payloads, PayloadFromBlock(block))
	}
	return payloads
}

// ModelsFromPayloads converts a wire batch to the persisted representation.
func ModelsFromPayloads(payloads []BlockPayload) []blocks.Block {
	models := make([]blocks.Block, 0, len(payloads))
	for _, payload := range payloads {
		models = append(models, payload.ToModel())
	}
	return models
}

func decodePayload(data json.RawMessage, target interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrValidation)
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// ErrorCode maps subsystem errors to their wire-level error codes.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, notes.ErrNoteNotFound), errors.Is(err, blocks.ErrBlockNotFound):
		return "not_found"
	case errors.Is(err, notes.ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrValidation), errors.Is(err, blocks.ErrInvalidBlock):
		return "validation_error"
	case errors.Is(err, blocks.ErrPersistenceConflict):
		return "persistence_conflict"
	default:
		return "internal_error"
	}
}

// ErrorEvent builds the rejection frame for a failed operation.
func ErrorEvent(err error) Event {
	return Event{
		Name: EventError,
		Data: ErrorPayload{Code: ErrorCode(err), Message: err.Error()},
	}
}
