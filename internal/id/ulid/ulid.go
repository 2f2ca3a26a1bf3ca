// Package ulid generates sortable run identifiers.
package ulid

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator creates monotonic ULIDs. It is safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// New returns a Generator backed by crypto/rand with monotonic entropy.
func New() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// NewRawID returns a ULID in its 16-byte form.
func (g *Generator) NewRawID() ([16]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	if err != nil {
		return [16]byte{}, fmt.Errorf("generate ulid: %w", err)
	}
	return id, nil
}

// NewID returns a ULID string.
func (g *Generator) NewID() (string, error) {
	raw, err := g.NewRawID()
	if err != nil {
		return "", err
	}
	return ulid.ULID(raw).String(), nil
}
