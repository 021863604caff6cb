// Package store persists session aggregates and serializes their
// writers. Repositories hand out detached copies: Find rebuilds the
// session from its stored snapshot, and mutation happens only inside
// Update, which runs the callback against the current state before
// persisting. Pending domain events are never stored; drain them inside
// the Update callback and publish after it returns.
//
// Scans (FindActive, FindByCriteria) are weakly consistent with
// concurrent writers on every backend.
package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/pkg/timestamp"
	"github.com/c360/pjstream/session"
)

// UpdateFunc mutates a session inside a repository write. Returning an
// error aborts the update without persisting. The callback may run more
// than once when the backend retries on contention, so it must be
// idempotent over anything it captures.
type UpdateFunc func(*session.Session) error

// SessionRepository is the persistence port for session aggregates.
type SessionRepository interface {
	// Find returns a detached copy of the session, or ErrSessionNotFound.
	Find(ctx context.Context, id string) (*session.Session, error)

	// Save persists a new session. The stored state is detached from the
	// argument. Fails with ErrAlreadyExists when the ID is taken.
	Save(ctx context.Context, sess *session.Session) error

	// Update applies fn to the stored session and persists the result.
	Update(ctx context.Context, id string, fn UpdateFunc) error

	// Remove deletes the session, or reports ErrSessionNotFound.
	Remove(ctx context.Context, id string) error

	// FindActive returns the IDs of active sessions in lexical order.
	FindActive(ctx context.Context) ([]string, error)

	// FindByCriteria returns detached copies of matching sessions,
	// sorted and paged.
	FindByCriteria(ctx context.Context, crit Criteria, page Page) ([]*session.Session, error)
}

// HistoryReader is the optional capability of repositories that retain a
// bounded trail of past revisions. Callers probe for it with a type
// assertion, the way net/http callers probe for http.Flusher.
type HistoryReader interface {
	// FindAt returns a detached copy of the session as it was stored at
	// the given instant. Times before the oldest retained revision, and
	// times at which the session was deleted, report ErrSessionNotFound.
	FindAt(ctx context.Context, id string, at time.Time) (*session.Session, error)
}

// Criteria filters session scans. Zero-value fields match everything;
// time bounds are exclusive.
type Criteria struct {
	Status        session.Status `json:"status,omitempty"`
	CreatedAfter  time.Time      `json:"created_after,omitempty"`
	CreatedBefore time.Time      `json:"created_before,omitempty"`
}

// Matches reports whether a stored snapshot satisfies the criteria.
func (c Criteria) Matches(snap session.Snapshot) bool {
	if c.Status != "" && snap.Status != c.Status {
		return false
	}
	created := timestamp.FromUnixMs(snap.CreatedAt)
	if !c.CreatedAfter.IsZero() && !created.After(c.CreatedAfter) {
		return false
	}
	if !c.CreatedBefore.IsZero() && !created.Before(c.CreatedBefore) {
		return false
	}
	return true
}

// SortField selects the ordering of a paged scan.
type SortField string

const (
	// SortCreatedAt orders by creation time.
	SortCreatedAt SortField = "created_at"
	// SortActivatedAt orders by activation time; never-activated
	// sessions sort first.
	SortActivatedAt SortField = "activated_at"
	// SortID orders lexically by session ID.
	SortID SortField = "id"
)

// Valid reports whether the sort field is recognized.
func (f SortField) Valid() bool {
	switch f {
	case SortCreatedAt, SortActivatedAt, SortID:
		return true
	}
	return false
}

// Paging bounds. Offsets past MaxPageOffset are rejected rather than
// scanned for.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
	MaxPageOffset    = 100_000
)

// Page bounds and orders a scan. The zero value yields the first
// DefaultPageLimit sessions by creation time, ascending.
type Page struct {
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
	SortBy SortField `json:"sort_by,omitempty"`
	Desc   bool      `json:"desc,omitempty"`
}

// Validate rejects out-of-range paging parameters.
func (p Page) Validate() error {
	if p.Limit < 0 || p.Limit > MaxPageLimit {
		return errors.WrapInvalid(
			fmt.Errorf("%w: page limit %d out of range [0, %d]",
				errors.ErrInvalidInput, p.Limit, MaxPageLimit),
			"store", "Validate", "check page limit")
	}
	if p.Offset < 0 || p.Offset > MaxPageOffset {
		return errors.WrapInvalid(
			fmt.Errorf("%w: page offset %d out of range [0, %d]",
				errors.ErrInvalidInput, p.Offset, MaxPageOffset),
			"store", "Validate", "check page offset")
	}
	if p.SortBy != "" && !p.SortBy.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: unknown sort field %q", errors.ErrInvalidInput, p.SortBy),
			"store", "Validate", "check sort field")
	}
	return nil
}

func (p Page) withDefaults() Page {
	if p.Limit == 0 {
		p.Limit = DefaultPageLimit
	}
	if p.SortBy == "" {
		p.SortBy = SortCreatedAt
	}
	return p
}

// sortSnapshots orders a scan result. Ties break on ID so pagination is
// stable across calls.
func sortSnapshots(snaps []session.Snapshot, page Page) {
	less := func(a, b session.Snapshot) bool {
		switch page.SortBy {
		case SortActivatedAt:
			if a.ActivatedAt != b.ActivatedAt {
				return a.ActivatedAt < b.ActivatedAt
			}
		case SortID:
			return a.ID < b.ID
		default:
			if a.CreatedAt != b.CreatedAt {
				return a.CreatedAt < b.CreatedAt
			}
		}
		return a.ID < b.ID
	}
	sort.Slice(snaps, func(i, j int) bool {
		if page.Desc {
			return less(snaps[j], snaps[i])
		}
		return less(snaps[i], snaps[j])
	})
}

// pageWindow slices sorted snapshots down to the requested page.
func pageWindow(snaps []session.Snapshot, page Page) []session.Snapshot {
	if page.Offset >= len(snaps) {
		return nil
	}
	snaps = snaps[page.Offset:]
	if len(snaps) > page.Limit {
		snaps = snaps[:page.Limit]
	}
	return snaps
}

// restoreAll rebuilds detached sessions from a page of snapshots.
func restoreAll(snaps []session.Snapshot) ([]*session.Session, error) {
	out := make([]*session.Session, 0, len(snaps))
	for _, snap := range snaps {
		sess, err := session.Restore(snap)
		if err != nil {
			return nil, fmt.Errorf("restore session %s: %w", snap.ID, err)
		}
		out = append(out, sess)
	}
	return out, nil
}
