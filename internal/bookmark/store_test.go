package bookmark

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secdash/internal/filter"
	"secdash/internal/model"
)

var fixed = time.Date(2025, 11, 7, 11, 0, 0, 0, time.UTC)

func newStoreForTest(opts ...Option) *Store {
	base := []Option{WithClock(func() time.Time { return fixed })}
	return NewStore(append(base, opts...)...)
}

func TestSaveLoadReturnsCopies(t *testing.T) {
	s := newStoreForTest()
	active := filter.Criteria{
		Search:     "alex",
		Categories: []string{"admin"},
		Labels:     map[string]string{"region": "europe"},
		Range:      &filter.Range{Min: 60, Max: 100},
	}
	b, err := s.Save("risky admins", active)
	require.NoError(t, err)
	assert.Equal(t, fixed, b.CreatedAt)

	active.Categories[0] = "developer"
	active.Labels["region"] = "asia-pacific"
	active.Range.Min = 0

	loaded, err := s.Load(b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, loaded.Categories)
	assert.Equal(t, "europe", loaded.Labels["region"])
	assert.Equal(t, 60.0, loaded.Range.Min)

	loaded.Labels["region"] = "africa"
	again, err := s.Load(b.ID)
	require.NoError(t, err)
	assert.Equal(t, "europe", again.Labels["region"])

	listed := s.List()
	listed[0].Criteria.Categories[0] = "contractor"
	assert.Equal(t, []string{"admin"}, s.List()[0].Criteria.Categories)
}

func TestDuplicatesAllowedByDefault(t *testing.T) {
	s := newStoreForTest()
	a, err := s.Save("night shift", filter.Criteria{Search: "a"})
	require.NoError(t, err)
	b, err := s.Save("night shift", filter.Criteria{Search: "b"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Criteria.Search)
	assert.Equal(t, "b", list[1].Criteria.Search)
}

func TestRejectDuplicates(t *testing.T) {
	s := newStoreForTest(WithPolicy(RejectDuplicates))
	_, err := s.Save("failed logins", filter.Criteria{})
	require.NoError(t, err)
	_, err = s.Save("failed logins", filter.Criteria{Search: "x"})
	require.ErrorIs(t, err, model.ErrDuplicateName)
	assert.Equal(t, 1, s.Len())
}

func TestSaveValidates(t *testing.T) {
	s := newStoreForTest()
	_, err := s.Save("   ", filter.Criteria{})
	require.ErrorIs(t, err, model.ErrInvalidParameter)
	_, err = s.Save("bad", filter.Criteria{Range: &filter.Range{Min: 2, Max: 1}})
	require.ErrorIs(t, err, model.ErrInvalidParameter)
	assert.Zero(t, s.Len())
}

func TestDeleteAndNotFound(t *testing.T) {
	s := newStoreForTest()
	a, _ := s.Save("one", filter.Criteria{})
	b, _ := s.Save("two", filter.Criteria{})
	c, _ := s.Save("three", filter.Criteria{})

	require.NoError(t, s.Delete(b.ID))
	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, c.ID, list[1].ID)

	require.ErrorIs(t, s.Delete(b.ID), model.ErrNotFound)
	_, err := s.Load(b.ID)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestOnChangeSeesEveryChange(t *testing.T) {
	s := newStoreForTest()
	var sizes []int
	s.OnChange(func(list []Bookmark) {
		sizes = append(sizes, len(list))
		// observers may call back into the store
		_ = s.Len()
	})
	b, err := s.Save("one", filter.Criteria{})
	require.NoError(t, err)
	_, err = s.Save("two", filter.Criteria{})
	require.NoError(t, err)
	require.NoError(t, s.Delete(b.ID))
	assert.Equal(t, []int{1, 2, 1}, sizes)
}

func TestDeterministicIDs(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 64)
	s1 := newStoreForTest(WithIDSource(bytes.NewReader(seed)))
	s2 := newStoreForTest(WithIDSource(bytes.NewReader(seed)))
	a, err := s1.Save("x", filter.Criteria{})
	require.NoError(t, err)
	b, err := s2.Save("x", filter.Criteria{})
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
}
