package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/pkg/timestamp"
	"github.com/c360/pjstream/session"
)

func snapAt(id string, status session.Status, created time.Time) session.Snapshot {
	return session.Snapshot{
		ID:        id,
		Status:    status,
		CreatedAt: timestamp.ToUnixMs(created),
	}
}

func snapIDs(snaps []session.Snapshot) []string {
	ids := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		ids = append(ids, snap.ID)
	}
	return ids
}

func TestPageValidate(t *testing.T) {
	tests := []struct {
		name    string
		page    Page
		wantErr bool
	}{
		{name: "zero value", page: Page{}},
		{name: "max limit", page: Page{Limit: MaxPageLimit}},
		{name: "negative limit", page: Page{Limit: -1}, wantErr: true},
		{name: "limit too large", page: Page{Limit: MaxPageLimit + 1}, wantErr: true},
		{name: "max offset", page: Page{Offset: MaxPageOffset}},
		{name: "negative offset", page: Page{Offset: -1}, wantErr: true},
		{name: "offset too large", page: Page{Offset: MaxPageOffset + 1}, wantErr: true},
		{name: "known sort field", page: Page{SortBy: SortActivatedAt}},
		{name: "unknown sort field", page: Page{SortBy: "frames"}, wantErr: true},
		{name: "descending", page: Page{SortBy: SortID, Desc: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.page.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrInvalidInput)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPageDefaults(t *testing.T) {
	p := Page{}.withDefaults()
	assert.Equal(t, DefaultPageLimit, p.Limit)
	assert.Equal(t, SortCreatedAt, p.SortBy)

	p = Page{Limit: 7, SortBy: SortID}.withDefaults()
	assert.Equal(t, 7, p.Limit)
	assert.Equal(t, SortID, p.SortBy)
}

func TestCriteriaMatches(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snap := snapAt("s1", session.StatusActive, base)

	tests := []struct {
		name string
		crit Criteria
		want bool
	}{
		{name: "zero criteria", crit: Criteria{}, want: true},
		{name: "status match", crit: Criteria{Status: session.StatusActive}, want: true},
		{name: "status mismatch", crit: Criteria{Status: session.StatusClosed}, want: false},
		{name: "created after inside", crit: Criteria{CreatedAfter: base.Add(-time.Hour)}, want: true},
		{name: "created after boundary excluded", crit: Criteria{CreatedAfter: base}, want: false},
		{name: "created before inside", crit: Criteria{CreatedBefore: base.Add(time.Hour)}, want: true},
		{name: "created before boundary excluded", crit: Criteria{CreatedBefore: base}, want: false},
		{
			name: "window",
			crit: Criteria{
				Status:        session.StatusActive,
				CreatedAfter:  base.Add(-time.Minute),
				CreatedBefore: base.Add(time.Minute),
			},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.crit.Matches(snap))
		})
	}
}

func TestSortSnapshots(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := snapAt("a", session.StatusCreated, base.Add(2*time.Second))
	b := snapAt("b", session.StatusCreated, base)
	c := snapAt("c", session.StatusCreated, base)

	t.Run("created ascending with id tie-break", func(t *testing.T) {
		snaps := []session.Snapshot{a, c, b}
		sortSnapshots(snaps, Page{SortBy: SortCreatedAt})
		assert.Equal(t, []string{"b", "c", "a"}, snapIDs(snaps))
	})

	t.Run("created descending", func(t *testing.T) {
		snaps := []session.Snapshot{b, a, c}
		sortSnapshots(snaps, Page{SortBy: SortCreatedAt, Desc: true})
		assert.Equal(t, []string{"a", "c", "b"}, snapIDs(snaps))
	})

	t.Run("by id", func(t *testing.T) {
		snaps := []session.Snapshot{c, a, b}
		sortSnapshots(snaps, Page{SortBy: SortID})
		assert.Equal(t, []string{"a", "b", "c"}, snapIDs(snaps))
	})

	t.Run("never activated sorts first", func(t *testing.T) {
		activated := snapAt("x", session.StatusActive, base)
		activated.ActivatedAt = timestamp.ToUnixMs(base.Add(time.Second))
		idle := snapAt("y", session.StatusCreated, base)

		snaps := []session.Snapshot{activated, idle}
		sortSnapshots(snaps, Page{SortBy: SortActivatedAt})
		assert.Equal(t, []string{"y", "x"}, snapIDs(snaps))
	})
}

func TestPageWindow(t *testing.T) {
	snaps := []session.Snapshot{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	assert.Equal(t, []string{"a", "b"}, snapIDs(pageWindow(snaps, Page{Limit: 2})))
	assert.Equal(t, []string{"c"}, snapIDs(pageWindow(snaps, Page{Limit: 2, Offset: 2})))
	assert.Empty(t, pageWindow(snaps, Page{Limit: 2, Offset: 3}))
	assert.Len(t, pageWindow(snaps, Page{Limit: 10}), 3)
}
