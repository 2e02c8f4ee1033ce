package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlueflyCollective/openstandardagents/pkg/manifest"
)

func testAgent(name string) *manifest.Agent {
	return &manifest.Agent{
		APIVersion: "ossa/v1",
		Kind:       "Agent",
		Metadata:   manifest.Metadata{Name: name, Version: "1.0.0"},
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := NewInMemoryRegistry()
	require.NoError(t, r.Register(testAgent("faq-bot")))

	got, err := r.Get("faq-bot")
	require.NoError(t, err)
	assert.Equal(t, "faq-bot", got.Metadata.Name)

	_, err = r.Get("ghost")
	require.ErrorIs(t, err, ErrAgentNotFound)
}

func TestRegister_ReplacesPrevious(t *testing.T) {
	r := NewInMemoryRegistry()
	require.NoError(t, r.Register(testAgent("faq-bot")))

	updated := testAgent("faq-bot")
	updated.Metadata.Version = "1.1.0"
	require.NoError(t, r.Register(updated))

	got, err := r.Get("faq-bot")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", got.Metadata.Version)

	list := r.List()
	assert.Len(t, list, 1)
}

func TestRegister_Validation(t *testing.T) {
	r := NewInMemoryRegistry()
	require.ErrorIs(t, r.Register(nil), ErrNilAgent)
	require.ErrorIs(t, r.Register(&manifest.Agent{}), ErrUnnamedAgent)
}

func TestList_SortedSnapshot(t *testing.T) {
	r := NewInMemoryRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(testAgent(name)))
	}

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Metadata.Name)
	assert.Equal(t, "mid", list[1].Metadata.Name)
	assert.Equal(t, "zeta", list[2].Metadata.Name)

	// Mutating the registry after List does not change the snapshot.
	require.NoError(t, r.Unregister("mid"))
	assert.Len(t, list, 3)
}

func TestUnregister(t *testing.T) {
	r := NewInMemoryRegistry()
	require.NoError(t, r.Register(testAgent("faq-bot")))
	require.NoError(t, r.Unregister("faq-bot"))

	_, err := r.Get("faq-bot")
	require.ErrorIs(t, err, ErrAgentNotFound)
	require.ErrorIs(t, r.Unregister("faq-bot"), ErrAgentNotFound)
}

func TestConcurrentAccess(t *testing.T) {
	r := NewInMemoryRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("agent-%d", i%4)
			_ = r.Register(testAgent(name))
			_, _ = r.Get(name)
			_ = r.List()
			if i%8 == 0 {
				_ = r.Unregister(name)
			}
		}(i)
	}
	wg.Wait()

	// The registry stays consistent: every remaining entry is retrievable.
	for _, a := range r.List() {
		got, err := r.Get(a.Metadata.Name)
		require.NoError(t, err)
		assert.Equal(t, a.Metadata.Name, got.Metadata.Name)
	}
}
