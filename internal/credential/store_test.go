package credential

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore_Empty(t *testing.T) {
	s := NewStore()

	token, ok := s.Get()
	assert.False(t, ok)
	assert.Empty(t, token)
}

func TestStore_SetGet(t *testing.T) {
	s := NewStore()

	s.Set("  abc.def.ghi\n")
	token, ok := s.Get()
	assert.True(t, ok)
	assert.Equal(t, "abc.def.ghi", token)

	s.Set("next")
	token, ok = s.Get()
	assert.True(t, ok)
	assert.Equal(t, "next", token)
}

func TestStore_BlankIsUnavailable(t *testing.T) {
	s := NewStore()
	s.Set("valid")
	s.Set(" \n\t")

	_, ok := s.Get()
	assert.False(t, ok)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore()
	s.Set("initial")

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.Set(fmt.Sprintf("writer-%d-%d", w, i))
			}
		}(w)
	}
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				token, ok := s.Get()
				assert.True(t, ok)
				assert.NotEmpty(t, token)
			}
		}()
	}
	wg.Wait()

	token, ok := s.Get()
	assert.True(t, ok)
	assert.Contains(t, token, "writer-")
}
