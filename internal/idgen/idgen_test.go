package idgen

import (
	"regexp"
	"strings"
	"sync"
	"testing"
)

var connIDPattern = regexp.MustCompile(`^cn-[a-zA-Z0-9]{10}$`)

func TestConnID_Format(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := ConnID()
		if !connIDPattern.MatchString(id) {
			t.Fatalf("ConnID() = %q, want cn- plus 10 alphanumerics", id)
		}
	}
}

func TestConnID_UniqueAcrossGoroutines(t *testing.T) {
	const workers, perWorker = 8, 1_000

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]string, perWorker)
			for i := range ids {
				ids[i] = ConnID()
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Fatalf("got %d distinct ids, want %d", len(seen), workers*perWorker)
	}
}

func TestGenerator_CustomShape(t *testing.T) {
	g := &Generator{Prefix: "dev-", Alphabet: "ab", Size: 6}
	id := g.Next()
	if !regexp.MustCompile(`^dev-[ab]{6}$`).MatchString(id) {
		t.Fatalf("Next() = %q, want dev- plus 6 of [ab]", id)
	}
}

func TestGenerator_FallsBackToSequence(t *testing.T) {
	// nanoid rejects a non-positive size.
	g := &Generator{Prefix: "cn-", Alphabet: alphanumeric, Size: 0}

	first, second := g.Next(), g.Next()
	if first != "cn-seq1" || second != "cn-seq2" {
		t.Fatalf("fallback ids = %q, %q; want cn-seq1, cn-seq2", first, second)
	}
	if !strings.HasPrefix(first, g.Prefix) {
		t.Fatalf("fallback id %q lost its prefix", first)
	}
}
