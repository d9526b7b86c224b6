package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Iron-Ham/hookline/internal/clock"
	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/Iron-Ham/hookline/internal/ident"
	"github.com/Iron-Ham/hookline/internal/logging"
)

// Ledger is the append and query surface shared by the backends.
type Ledger interface {
	// Record appends a new entry. It fails only on storage errors.
	Record(ctx context.Context, req RecordRequest) (*Entry, error)
	// Get returns the entry with id.
	Get(ctx context.Context, id string) (*Entry, error)
	// EntriesForEntity returns entries about one entity in creation order.
	EntriesForEntity(ctx context.Context, entityType, entityID string) ([]Entry, error)
	// EntriesForAgent returns up to limit entries by agentID, most recent
	// first. A limit <= 0 returns all of them.
	EntriesForAgent(ctx context.Context, agentID string, limit int) ([]Entry, error)
	// Children returns the entries whose parent is parentID, in creation order.
	Children(ctx context.Context, parentID string) ([]Entry, error)
	// Verify walks every entry and checks sequence and hash links.
	Verify(ctx context.Context) (*VerifyReport, error)
	Close() error
}

// Options configure a backend.
type Options struct {
	// Chain stamps entries with PrevHash and Hash.
	Chain  bool
	Clock  clock.Clock
	Logger *logging.Logger
}

// sealer assigns identity, sequence and hash to a new entry given the
// current tail of the ledger.
type sealer struct {
	chain bool
	clock clock.Clock
}

func newSealer(opts Options) sealer {
	return sealer{chain: opts.Chain, clock: clock.OrReal(opts.Clock)}
}

type tail struct {
	seq  uint64
	hash string
}

func (s sealer) seal(req RecordRequest, last tail) (*Entry, error) {
	var data json.RawMessage
	if req.Data != nil {
		b, err := json.Marshal(req.Data)
		if err != nil {
			return nil, errors.NewValidationError("ledger data is not JSON encodable").
				WithField("data").WithCause(err)
		}
		data = b
	}
	now := s.clock.Now().UTC()
	e := &Entry{
		Seq:           last.seq + 1,
		ID:            ident.NewAt(ident.Entry, now),
		AgentID:       req.AgentID,
		Action:        req.Action,
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		Data:          data,
		Message:       req.Message,
		ParentEntryID: req.ParentEntryID,
		CreatedAt:     now,
	}
	if s.chain {
		h, err := computeHash(last.hash, e)
		if err != nil {
			return nil, errors.Wrap(err, "hash ledger entry")
		}
		e.PrevHash = last.hash
		e.Hash = h
	}
	return e, nil
}

// Break describes one integrity violation found by Verify.
type Break struct {
	Seq    uint64 `json:"seq"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// VerifyReport summarizes a Verify pass.
type VerifyReport struct {
	Entries  int     `json:"entries"`
	Chained  int     `json:"chained"`
	Breaks   []Break `json:"breaks,omitempty"`
	LastHash string  `json:"last_hash,omitempty"`
}

// OK reports whether no violations were found.
func (r *VerifyReport) OK() bool { return len(r.Breaks) == 0 }

// verifier checks entries fed to it in sequence order.
type verifier struct {
	report VerifyReport
	prev   tail
	seen   map[string]bool
}

func newVerifier() *verifier {
	return &verifier{seen: make(map[string]bool)}
}

func (v *verifier) add(e *Entry) {
	v.report.Entries++
	if e.Seq != v.prev.seq+1 {
		v.fail(e, fmt.Sprintf("sequence gap: expected %d", v.prev.seq+1))
	}
	if v.seen[e.ID] {
		v.fail(e, "duplicate id")
	}
	v.seen[e.ID] = true

	if e.Hash != "" {
		v.report.Chained++
		if e.PrevHash != v.prev.hash {
			v.fail(e, "prev_hash does not match preceding entry")
		}
		want, err := computeHash(e.PrevHash, e)
		switch {
		case err != nil:
			v.fail(e, "cannot encode entry: "+err.Error())
		case want != e.Hash:
			v.fail(e, "hash mismatch")
		}
	}
	v.prev = tail{seq: e.Seq, hash: e.Hash}
	v.report.LastHash = e.Hash
}

func (v *verifier) corrupt(seq uint64, reason string) {
	v.report.Breaks = append(v.report.Breaks, Break{Seq: seq, Reason: reason})
}

func (v *verifier) fail(e *Entry, reason string) {
	v.report.Breaks = append(v.report.Breaks, Break{Seq: e.Seq, ID: e.ID, Reason: reason})
}

func entryNotFound(id string) error {
	return errors.NewNotFoundError("ledger entry", id)
}
