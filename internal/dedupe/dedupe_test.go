package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_CollapsesConcurrentDuplicates(t *testing.T) {
	g, err := NewGroup()
	require.NoError(t, err)

	var calls int32
	start := make(chan struct{})

	const n = 20
	results := make([]any, n)
	shared := make([]bool, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			v, s, err := g.Do("example.com", 1, "198.41.0.4", func() (any, error) {
				atomic.AddInt32(&calls, 1)
				return "answer", nil
			})
			require.NoError(t, err)
			results[i] = v
			shared[i] = s
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "duplicate concurrent queries must collapse to one real call")
	for i := 0; i < n; i++ {
		assert.Equal(t, "answer", results[i])
	}
}

func TestGroup_DistinctQueriesDoNotCollapse(t *testing.T) {
	g, err := NewGroup()
	require.NoError(t, err)

	var calls int32
	_, _, err = g.Do("a.example.com", 1, "198.41.0.4", func() (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	})
	require.NoError(t, err)
	_, _, err = g.Do("b.example.com", 1, "198.41.0.4", func() (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	})
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGroup_SequentialCallsRunAgain(t *testing.T) {
	g, err := NewGroup()
	require.NoError(t, err)

	var calls int32
	for i := 0; i < 3; i++ {
		_, _, err := g.Do("example.com", 1, "198.41.0.4", func() (any, error) {
			atomic.AddInt32(&calls, 1)
			return nil, nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls, "entries must not persist once the in-flight call completes")
}
