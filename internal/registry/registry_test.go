package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lagonhq/lagon-node/internal/deployment"
)

func TestBindLookupUnbind(t *testing.T) {
	r := New()
	d := &deployment.Deployment{ID: "d1"}

	r.BindAll([]string{"a.example.com", "b.example.com"}, d)

	got, ok := r.Lookup("a.example.com")
	require.True(t, ok)
	assert.Same(t, d, got)

	got, ok = r.ByID("d1")
	require.True(t, ok)
	assert.Same(t, d, got)

	r.UnbindAll([]string{"a.example.com"})
	_, ok = r.Lookup("a.example.com")
	assert.False(t, ok, "expected a.example.com to be unbound")

	_, ok = r.Lookup("b.example.com")
	assert.True(t, ok, "expected b.example.com to remain bound")

	_, ok = r.ByID("d1")
	assert.True(t, ok, "UnbindAll must not touch the id index")
}

func TestForget(t *testing.T) {
	r := New()
	d := &deployment.Deployment{ID: "d1"}
	r.BindAll([]string{"a.example.com"}, d)
	r.Forget("d1")
	_, ok := r.ByID("d1")
	assert.False(t, ok, "expected Forget to remove the id index entry")
}

func TestLookupMiss(t *testing.T) {
	r := New()
	_, ok := r.Lookup("nowhere.example.com")
	assert.False(t, ok)
}

func TestIterSnapshot(t *testing.T) {
	r := New()
	d1 := &deployment.Deployment{ID: "d1"}
	r.BindAll([]string{"a.example.com"}, d1)

	snap := r.Iter()
	require.Len(t, snap, 1)
	assert.Same(t, d1, snap["a.example.com"])

	r.BindAll([]string{"c.example.com"}, &deployment.Deployment{ID: "d2"})
	assert.Len(t, snap, 1, "snapshot must not reflect subsequent mutation")
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			r.BindAll([]string{"host"}, &deployment.Deployment{ID: "d"})
		}(i)
		go func() {
			defer wg.Done()
			r.Lookup("host")
		}()
	}
	wg.Wait()
}
