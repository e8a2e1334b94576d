package consistenthash

import "testing"

func TestRouter_StableForUnchangedBackendSet(t *testing.T) {
	r := NewRouter([]string{"as:1", "as:2", "as:3"})
	first := r.Route("10.0.0.1:4000->10.0.0.2:80")
	for i := 0; i < 100; i++ {
		if got := r.Route("10.0.0.1:4000->10.0.0.2:80"); got != first {
			t.Fatalf("Route is not deterministic for a fixed backend set: got %q, want %q", got, first)
		}
	}
}

func TestRouter_DistributesAcrossBackends(t *testing.T) {
	r := NewRouter([]string{"as:1", "as:2", "as:3"})
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		key := string(rune('a' + i%26))
		seen[r.Route(key)] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected routing to spread across backends, only saw %v", seen)
	}
}

func TestRouter_RemoveStopsRoutingThere(t *testing.T) {
	r := NewRouter([]string{"as:1", "as:2"})
	r.Remove("as:1")
	for i := 0; i < 50; i++ {
		key := string(rune('a' + i%26))
		if got := r.Route(key); got == "as:1" {
			t.Fatalf("Route returned removed backend %q", got)
		}
	}
}
