package bot

import (
	"fmt"
	"testing"

	"github.com/unsafisica/unsabot/internal/retriever"
)

func TestConversationCache_PutGet(t *testing.T) {
	c := newConversationCache(4)

	c.Put("u1", []retriever.Result{{Content: "Carrera: Física"}})
	got, ok := c.Get("u1")
	if !ok || len(got) != 1 || got[0].Content != "Carrera: Física" {
		t.Errorf("Get(u1) = %v, %v", got, ok)
	}

	if _, ok := c.Get("nadie"); ok {
		t.Error("Get() on an unknown user reported a hit")
	}
}

func TestConversationCache_ReplaceKeepsSize(t *testing.T) {
	c := newConversationCache(4)

	c.Put("u1", []retriever.Result{{Content: "viejo"}})
	c.Put("u1", []retriever.Result{{Content: "nuevo"}})

	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	got, _ := c.Get("u1")
	if got[0].Content != "nuevo" {
		t.Errorf("Get(u1) = %q, want the replacement", got[0].Content)
	}
}

func TestConversationCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newConversationCache(3)

	for i := range 3 {
		c.Put(fmt.Sprintf("u%d", i), []retriever.Result{{Content: "x"}})
	}
	// Touch u0 so u1 becomes the eviction candidate.
	c.Get("u0")

	c.Put("u3", []retriever.Result{{Content: "x"}})

	if _, ok := c.Get("u1"); ok {
		t.Error("u1 survived eviction, want it dropped as least recently used")
	}
	for _, key := range []string{"u0", "u2", "u3"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("%s missing, want it retained", key)
		}
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want the capacity", c.Len())
	}
}
