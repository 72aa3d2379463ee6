package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsOutOfRangeNode(t *testing.T) {
	_, err := New(4096)
	assert.Error(t, err)
}

func TestNewSKU_UniqueAcrossGoroutines(t *testing.T) {
	gen, err := New(1)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{})
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				sku := gen.NewSKU()
				mu.Lock()
				seen[sku] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 2000)
	for sku := range seen {
		assert.True(t, strings.HasPrefix(sku, SKUPrefix))
		assert.Equal(t, strings.ToUpper(sku), sku)
		break
	}
}
