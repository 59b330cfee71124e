package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shopkeeper/backend/internal/behavior"
)

func TestGetUnknownIdentity(t *testing.T) {
	s := NewMemoryStore()
	assert.Equal(t, behavior.Session{}, s.Get("nobody"))
	assert.Equal(t, 0, s.Len())
}

func TestUpdateReturnsNewState(t *testing.T) {
	s := NewMemoryStore()
	got := s.Update("u1", func(sess *behavior.Session) {
		sess.ActiveCode = "SAVE10-ABC"
	})
	assert.Equal(t, "SAVE10-ABC", got.ActiveCode)
	assert.Equal(t, "SAVE10-ABC", s.Get("u1").ActiveCode)
	assert.Equal(t, 1, s.Len())
}

func TestConcurrentUpdatesSerializePerIdentity(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update("u1", func(sess *behavior.Session) { sess.PoliteCount++ })
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, s.Get("u1").PoliteCount)
}
