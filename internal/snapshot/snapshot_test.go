package snapshot

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rewired-gh/quakewatch/internal/models"
)

func TestStore_StartsEmpty(t *testing.T) {
	s := New()
	assert.Equal(t, 0, s.Len())
	assert.NotNil(t, s.Get())
	assert.Empty(t, s.List())
}

func TestStore_Replace(t *testing.T) {
	s := New()
	s.Replace(models.Snapshot{"a": {ID: "a", Magnitude: 4}})
	assert.Equal(t, 1, s.Len())

	q, ok := s.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, 4.0, q.Magnitude)

	s.Replace(models.Snapshot{"b": {ID: "b"}, "c": {ID: "c"}})
	_, ok = s.Lookup("a")
	assert.False(t, ok, "replace must not merge with the previous snapshot")
	assert.Equal(t, []string{"b", "c"}, []string{s.List()[0].ID, s.List()[1].ID})

	s.Replace(nil)
	assert.Equal(t, 0, s.Len())
}

func TestStore_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	s := New()
	small := models.Snapshot{"a": {ID: "a"}}
	large := models.Snapshot{"a": {ID: "a"}, "b": {ID: "b"}, "c": {ID: "c"}}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if i%2 == 0 {
				s.Replace(small)
			} else {
				s.Replace(large)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			n := s.Len()
			if n != 0 && n != 1 && n != 3 {
				t.Errorf("observed partial snapshot of size %d", n)
				return
			}
		}
	}()
	wg.Wait()
}
