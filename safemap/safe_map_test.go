package safemap

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeMap_StoreLoad(t *testing.T) {
	m := NewSafeMap[uint32, string]()
	require.NotNil(t, m)
	assert.Equal(t, 0, m.Len())

	m.Store(1, "a")
	v, ok := m.Load(1)
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	v, ok = m.Get(2)
	assert.False(t, ok)
	assert.Empty(t, v)

	assert.True(t, m.Has(1))
	m.Delete(1)
	assert.False(t, m.Has(1))
	m.Delete(1)
}

func TestSafeMap_LoadOrStore(t *testing.T) {
	m := NewSafeMap[string, int]()

	v, loaded := m.LoadOrStore("k", 1)
	assert.False(t, loaded)
	assert.Equal(t, 1, v)

	v, loaded = m.LoadOrStore("k", 2)
	assert.True(t, loaded)
	assert.Equal(t, 1, v)
}

func TestSafeMap_LoadOrStoreSingleWinner(t *testing.T) {
	m := NewSafeMap[string, int]()
	var winners atomic.Int32

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			if _, loaded := m.LoadOrStore("same", v); !loaded {
				winners.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestSafeMap_LoadAndDelete(t *testing.T) {
	m := NewSafeMap[int, *int]()
	x := 5
	m.Store(1, &x)

	v, ok := m.LoadAndDelete(1)
	assert.True(t, ok)
	assert.Same(t, &x, v)

	v, ok = m.LoadAndDelete(1)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestSafeMap_CompareAndSwap(t *testing.T) {
	type rec struct{ a, b string }
	m := NewSafeMap[string, rec]()
	m.Store("k", rec{"1", "x"})

	assert.False(t, m.CompareAndSwap("k", rec{"0", "x"}, rec{"2", "x"}))
	assert.True(t, m.CompareAndSwap("k", rec{"1", "x"}, rec{"2", "x"}))
	assert.False(t, m.CompareAndSwap("missing", rec{}, rec{"3", ""}))

	v, _ := m.Load("k")
	assert.Equal(t, rec{"2", "x"}, v)
	assert.False(t, m.Has("missing"))
}

func TestSafeMap_RangeValuesLen(t *testing.T) {
	m := NewSafeMap[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)
	m.Store("c", 3)

	assert.Equal(t, 3, m.Len())
	assert.ElementsMatch(t, []int{1, 2, 3}, m.Values())

	count := 0
	m.Range(func(string, int) bool {
		count++
		return count < 2
	})
	assert.Equal(t, 2, count)

	assert.Empty(t, NewSafeMap[string, int]().Values())
}

func TestSafeMap_Concurrent(t *testing.T) {
	m := NewSafeMap[int, int]()
	const goroutines = 50
	const ops = 200

	var wg sync.WaitGroup
	for g := range goroutines {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := range ops {
				key := id*ops + i
				m.Store(key, key)
				m.Load(key)
				m.Values()
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, goroutines*ops, m.Len())

	for g := range goroutines {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := range ops {
				m.LoadAndDelete(id*ops + i)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 0, m.Len())
}
