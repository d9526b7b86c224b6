// Package ident generates typed record identifiers of the form
// <prefix>_<unix seconds>_<12 hex>.
package ident

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prefix tags the entity type an identifier belongs to.
type Prefix string

const (
	WorkItem   Prefix = "wi"
	Queue      Prefix = "hook"
	Workflow   Prefix = "mol"
	Step       Prefix = "step"
	Template   Prefix = "tmpl"
	Gate       Prefix = "gate"
	Submission Prefix = "sub"
	Entry      Prefix = "bead"
)

var idPattern = regexp.MustCompile(`^([a-z]+)_([0-9]{10})_([0-9a-f]{12})$`)

// New returns a fresh identifier for prefix stamped with the current time.
func New(p Prefix) string {
	return NewAt(p, time.Now())
}

// NewAt returns a fresh identifier stamped with t.
func NewAt(p Prefix, t time.Time) string {
	u := uuid.New()
	return fmt.Sprintf("%s_%010d_%s", p, t.Unix(), hex.EncodeToString(u[:6]))
}

// Valid reports whether id is well formed.
func Valid(id string) bool {
	return idPattern.MatchString(id)
}

// PrefixOf returns the prefix of a well-formed id.
func PrefixOf(id string) (Prefix, error) {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return "", fmt.Errorf("invalid id format: %s", id)
	}
	return Prefix(m[1]), nil
}

// Timestamp returns the creation second encoded in id.
func Timestamp(id string) (time.Time, error) {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return time.Time{}, fmt.Errorf("invalid id format: %s", id)
	}
	sec, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp from %s: %w", id, err)
	}
	return time.Unix(sec, 0).UTC(), nil
}

// HasPrefix reports whether id was generated for p.
func HasPrefix(id string, p Prefix) bool {
	return strings.HasPrefix(id, string(p)+"_")
}
