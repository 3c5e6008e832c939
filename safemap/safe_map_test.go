package safemap

import (
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafeMap(t *testing.T) {
	m := NewSafeMap[string, int]()
	require.NotNil(t, m)
	assert.Equal(t, 0, m.Len())
	_, ok := m.Load("x")
	assert.False(t, ok)
}

func TestSafeMap_Store_Load(t *testing.T) {
	m := NewSafeMap[string, int]()

	t.Run("store and load returns value", func(t *testing.T) {
		m.Store("a", 1)
		v, ok := m.Load("a")
		assert.True(t, ok)
		assert.Equal(t, 1, v)
	})

	t.Run("overwrite keeps a single entry", func(t *testing.T) {
		m.Store("a", 2)
		v, ok := m.Load("a")
		assert.True(t, ok)
		assert.Equal(t, 2, v)
		assert.Equal(t, 1, m.Len())
	})

	t.Run("load missing key returns zero value and false", func(t *testing.T) {
		v, ok := m.Load("nonexistent")
		assert.False(t, ok)
		assert.Equal(t, 0, v)
	})
}

func TestSafeMap_LoadOrStore(t *testing.T) {
	m := NewSafeMap[uuid.UUID, string]()
	id := uuid.New()

	v, loaded := m.LoadOrStore(id, "first")
	assert.False(t, loaded)
	assert.Equal(t, "first", v)

	v, loaded = m.LoadOrStore(id, "second")
	assert.True(t, loaded)
	assert.Equal(t, "first", v)
	assert.Equal(t, 1, m.Len())
}

func TestSafeMap_LoadAndDelete(t *testing.T) {
	m := NewSafeMap[string, int]()
	m.Store("a", 1)

	v, ok := m.LoadAndDelete("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 0, m.Len())

	v, ok = m.LoadAndDelete("a")
	assert.False(t, ok)
	assert.Zero(t, v)
	assert.Equal(t, 0, m.Len())
}

func TestSafeMap_LoadAndDelete_exactlyOneWinner(t *testing.T) {
	m := NewSafeMap[int, int]()
	m.Store(1, 1)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := m.LoadAndDelete(1); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 0, m.Len())
}

func TestSafeMap_Delete_Has(t *testing.T) {
	m := NewSafeMap[int, struct{}]()
	m.Store(1, struct{}{})

	assert.True(t, m.Has(1))
	assert.False(t, m.Has(2))
	m.Delete(1)
	m.Delete(1)
	assert.False(t, m.Has(1))
	assert.Equal(t, 0, m.Len())
}

func TestSafeMap_Range_Values(t *testing.T) {
	m := NewSafeMap[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)
	m.Store("c", 3)

	t.Run("range stops when f returns false", func(t *testing.T) {
		count := 0
		m.Range(func(k string, v int) bool {
			count++
			return count < 2
		})
		assert.Equal(t, 2, count)
	})

	t.Run("values copies every value", func(t *testing.T) {
		values := m.Values()
		sort.Ints(values)
		assert.Equal(t, []int{1, 2, 3}, values)
	})
}

func TestSafeMap_Concurrent(t *testing.T) {
	m := NewSafeMap[int, int]()
	const goroutines = 50
	const opsPerGoroutine = 200

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < opsPerGoroutine; i++ {
				key := id*opsPerGoroutine + i
				m.Store(key, key*2)
				m.Store(key, key*3)
				m.Load(key)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, goroutines*opsPerGoroutine, m.Len())

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < opsPerGoroutine; i++ {
				m.Delete(id*opsPerGoroutine + i)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 0, m.Len())
}
