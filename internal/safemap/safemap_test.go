package safemap

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeMap(t *testing.T) {
	m := NewSafeMap[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)
	m.Store("c", 3)

	require.Equal(t, 3, m.Len())

	m.Delete("b")
	require.Equal(t, 2, m.Len())

	odd := m.Values(func(_ string, v int) bool { return v%2 == 1 })
	sort.Ints(odd)
	require.Equal(t, []int{1, 3}, odd)
	require.Len(t, m.Values(nil), 2)

	m.Clear()
	require.Zero(t, m.Len())
}

func TestSafeMapConcurrent(t *testing.T) {
	m := NewSafeMap[int, int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Store(i, i)
			m.Values(nil)
		}(i)
	}
	wg.Wait()
	require.Equal(t, 50, m.Len())
}
