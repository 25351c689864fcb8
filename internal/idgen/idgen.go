// Package idgen mints short, URL-safe connection ids for correlating log
// lines. Device ids come from the handshake; these identify a single
// connection, so a device that reconnects gets a new one.
package idgen

import (
	"fmt"
	"sync/atomic"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Generator produces ids of the form Prefix + Size random characters drawn
// from Alphabet.
type Generator struct {
	Prefix   string
	Alphabet string
	Size     int

	seq atomic.Uint64
}

// Conn is the generator used for listener connections.
var Conn = &Generator{Prefix: "cn-", Alphabet: alphanumeric, Size: 10}

// ConnID returns a new connection id.
func ConnID() string { return Conn.Next() }

// Next returns a fresh id. If the random source fails it falls back to a
// process-local sequence ("<prefix>seq<N>") so a connection is never left
// without a label.
func (g *Generator) Next() string {
	id, err := nanoid.Generate(g.Alphabet, g.Size)
	if err != nil {
		return fmt.Sprintf("%sseq%d", g.Prefix, g.seq.Add(1))
	}
	return g.Prefix + id
}
