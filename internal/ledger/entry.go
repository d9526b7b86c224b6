package ledger

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// Entity types recorded by the core.
const (
	EntityQueue      = "queue"
	EntityWorkItem   = "work_item"
	EntityWorkflow   = "workflow"
	EntityStep       = "step"
	EntityTemplate   = "template"
	EntityGate       = "gate"
	EntitySubmission = "submission"
)

// Approval actions. A gate-bound step completes only against an entry
// carrying one of these.
const (
	ActionSubmissionApproved     = "submission.approved"
	ActionSubmissionAutoApproved = "submission.auto_approved"
)

// Entry is one immutable ledger record.
type Entry struct {
	Seq           uint64          `json:"seq"`
	ID            string          `json:"id"`
	AgentID       string          `json:"agent_id"`
	Action        string          `json:"action"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Data          json.RawMessage `json:"data,omitempty"`
	Message       string          `json:"message,omitempty"`
	ParentEntryID string          `json:"parent_entry_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	PrevHash      string          `json:"prev_hash,omitempty"`
	Hash          string          `json:"hash,omitempty"`
}

// DecodeData unmarshals the entry payload into v.
func (e *Entry) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// RecordRequest describes an entry to append.
type RecordRequest struct {
	AgentID    string
	Action     string
	EntityType string
	EntityID   string
	// Data is any JSON-encodable payload.
	Data          any
	Message       string
	ParentEntryID string
}

// hashed is the canonical form of an entry. Field numbers are fixed so the
// encoding stays stable when Entry grows.
type hashed struct {
	Seq           uint64 `cbor:"1,keyasint"`
	ID            string `cbor:"2,keyasint"`
	AgentID       string `cbor:"3,keyasint"`
	Action        string `cbor:"4,keyasint"`
	EntityType    string `cbor:"5,keyasint"`
	EntityID      string `cbor:"6,keyasint"`
	Data          []byte `cbor:"7,keyasint"`
	Message       string `cbor:"8,keyasint"`
	ParentEntryID string `cbor:"9,keyasint"`
	CreatedAt     int64  `cbor:"10,keyasint"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("ledger: CBOR encoder initialization failed: " + err.Error())
	}
}

// computeHash returns hex(blake3(prevHash || cbor(e))).
func computeHash(prevHash string, e *Entry) (string, error) {
	body, err := encMode.Marshal(hashed{
		Seq:           e.Seq,
		ID:            e.ID,
		AgentID:       e.AgentID,
		Action:        e.Action,
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		Data:          e.Data,
		Message:       e.Message,
		ParentEntryID: e.ParentEntryID,
		CreatedAt:     e.CreatedAt.UnixNano(),
	})
	if err != nil {
		return "", err
	}
	h := blake3.New()
	_, _ = h.Write([]byte(prevHash))
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}
