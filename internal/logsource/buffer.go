package logsource

import (
	"context"
	"strings"
	"sync"

	"github.com/opensource-finance/osprey-verify/internal/domain"
)

// Buffer keeps the last lines written by each source in a fixed ring.
// The stand-in writes its rule processor chatter here and serves it back.
type Buffer struct {
	mu      sync.RWMutex
	size    int
	sources map[string]*ring
}

type ring struct {
	lines []string
	next  int
	full  bool
}

// NewBuffer creates a buffer holding up to size lines per source.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 2000
	}
	return &Buffer{size: size, sources: make(map[string]*ring)}
}

// Append writes one line to source.
func (b *Buffer) Append(source, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.sources[source]
	if !ok {
		r = &ring{lines: make([]string, b.size)}
		b.sources[source] = r
	}
	r.lines[r.next] = line
	r.next = (r.next + 1) % b.size
	if r.next == 0 {
		r.full = true
	}
}

// Tail returns up to n most recent lines of source, oldest first.
// n <= 0 returns everything held.
func (b *Buffer) Tail(source string, n int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.sources[source]
	if !ok {
		return nil
	}

	held := r.next
	if r.full {
		held = b.size
	}
	if n <= 0 || n > held {
		n = held
	}

	out := make([]string, n)
	start := (r.next - n + b.size) % b.size
	for i := range out {
		out[i] = r.lines[(start+i)%b.size]
	}
	return out
}

// Sources returns the names of every source written so far.
func (b *Buffer) Sources() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.sources))
	for name := range b.sources {
		names = append(names, name)
	}
	return names
}

// Reset drops all lines.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.sources = make(map[string]*ring)
	b.mu.Unlock()
}

// Fetch serves the buffer as a log source. Unknown sources are an error
// response, matching what a container runtime reports for a missing container.
func (b *Buffer) Fetch(ctx context.Context, source string, tail int) (domain.LogResponse, error) {
	lines := b.Tail(source, tail)
	if lines == nil {
		return domain.LogResponse{Status: domain.LogStatusError, Message: "No such source: " + source}, nil
	}
	return domain.LogResponse{Status: domain.LogStatusSuccess, Logs: strings.Join(lines, "\n") + "\n"}, nil
}
