package exception

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squeedr/internal/recurrence"
)

func TestStoreCRUD(t *testing.T) {
	s := NewStore(ValidateOptions{})
	v0 := s.Version()

	added, err := s.Add(Single{Info: Info{Reason: "Dentist"}, Date: day(5, 7)})
	require.NoError(t, err)
	id := added.Meta().ID
	require.NotEmpty(t, id)
	assert.Greater(t, s.Version(), v0)

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, added, got)

	require.NoError(t, s.Update(Single{Info: Info{ID: id, Reason: "Moved"}, Date: day(5, 8)}))
	got, err = s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, day(5, 8), got.(Single).Date)

	require.NoError(t, s.Remove(id))
	_, err = s.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Remove(id), ErrNotFound)
	assert.ErrorIs(t, s.Update(Single{Info: Info{ID: id}, Date: day(5, 8)}), ErrNotFound)
}

func TestStoreRejectsInvalidAndDuplicates(t *testing.T) {
	s := NewStore(ValidateOptions{RequireEndDate: true})

	_, err := s.Add(Recurring{Info: Info{ID: "open"}, Rule: recurrence.Rule{
		Pattern: recurrence.Weekly, Days: recurrence.Weekdays(time.Monday), Start: day(5, 1),
	}})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.Add(Single{Info: Info{ID: "x"}, Date: day(5, 1)})
	require.NoError(t, err)
	_, err = s.Add(Single{Info: Info{ID: "x"}, Date: day(5, 2)})
	assert.ErrorIs(t, err, ErrInvalid)

	assert.Len(t, s.List(), 1)
}

func TestStoreListKeepsInsertionOrder(t *testing.T) {
	s := NewStore(ValidateOptions{})
	for _, id := range []string{"c", "a", "b"} {
		_, err := s.Add(Single{Info: Info{ID: id}, Date: day(5, 1)})
		require.NoError(t, err)
	}
	require.NoError(t, s.Remove("a"))

	var ids []string
	for _, e := range s.List() {
		ids = append(ids, e.Meta().ID)
	}
	assert.Equal(t, []string{"c", "b"}, ids)
}

func TestStoreReplaceSource(t *testing.T) {
	s := NewStore(ValidateOptions{})
	_, err := s.Add(Single{Info: Info{ID: "manual"}, Date: day(5, 1)})
	require.NoError(t, err)

	require.NoError(t, s.ReplaceSource("feed", []Exception{
		Single{Info: Info{ID: "feed:1"}, Date: day(5, 2)},
		Single{Info: Info{ID: "feed:2"}, Date: day(5, 3)},
	}))
	assert.Len(t, s.List(), 3)

	err = s.ReplaceSource("feed", []Exception{
		Single{Info: Info{ID: "feed:3"}, Date: day(5, 4)},
		Range{Info: Info{ID: "feed:bad"}, Start: day(5, 9), End: day(5, 1)},
		Single{Info: Info{ID: "manual"}, Date: day(5, 5)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "manual", list[0].Meta().ID)
	assert.Empty(t, list[0].Meta().Source)
	assert.Equal(t, "feed:3", list[1].Meta().ID)
	assert.Equal(t, "feed", list[1].Meta().Source)

	assert.ErrorIs(t, s.ReplaceSource("", nil), ErrInvalid)
}

func TestStoreCoveringAndClassify(t *testing.T) {
	s := NewStore(ValidateOptions{})
	_, err := s.Add(Range{Info: Info{ID: "trip"}, Start: day(5, 5), End: day(5, 9)})
	require.NoError(t, err)
	_, err = s.Add(Recurring{Info: Info{ID: "mondays"}, Rule: recurrence.Rule{
		Pattern: recurrence.Weekly, Days: recurrence.Weekdays(time.Monday), Start: day(5, 1),
	}})
	require.NoError(t, err)

	covering := s.Covering(day(5, 5))
	require.Len(t, covering, 2)
	assert.Empty(t, s.Covering(day(5, 10)))

	assert.Len(t, s.Classify(day(5, 1), day(5, 11)), 6)
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore(ValidateOptions{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.Add(Single{Date: day(5, 1)})
		}()
		go func() {
			defer wg.Done()
			_ = s.Classify(day(5, 1), day(5, 31))
		}()
	}
	wg.Wait()
	assert.Len(t, s.List(), 8)
}
