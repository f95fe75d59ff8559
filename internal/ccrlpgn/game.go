// Package ccrlpgn reads the PGN documents published by CCRL live broadcasts and
// derives the identity of the game they describe.
package ccrlpgn

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"

	"github.com/park285/ccrl-live-notifier/internal/enginename"
)

// BookComment is the comment CCRL attaches to moves taken from the opening
// book. Whitespace inside the braces around it is ignored.
const BookComment = "(Book)"

// fingerprintDomain versions the fingerprint layout. Changing the hashed fields
// requires a new domain so old and new fingerprints can never collide.
const fingerprintDomain = "ccrl-live-notifier/game/v1"

type Move struct {
	SAN  string
	Book bool
}

// Game is one parsed broadcast snapshot. It is never partially built: Parse
// either returns a Game with both players, a date and at least one move, or an
// error.
type Game struct {
	White enginename.Name
	Black enginename.Name
	Date  string
	// Event is the Event header when present, otherwise Site. CCRL puts the
	// tournament name in Site.
	Event string
	Moves []Move
}

// Fingerprint identifies a logical game across repeated fetches.
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// Short returns a prefix suitable for log lines.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// OutOfBook reports whether at least one played move did not come from the
// opening book.
func (g *Game) OutOfBook() bool {
	for _, m := range g.Moves {
		if !m.Book {
			return true
		}
	}
	return false
}

// BookLine returns the SANs of the book moves in played order.
func (g *Game) BookLine() []string {
	var out []string
	for _, m := range g.Moves {
		if m.Book {
			out = append(out, m.SAN)
		}
	}
	return out
}

// Fingerprint hashes the players (as displayed), the date and the book line.
// Moves after the book are excluded, so the value only settles once the game is
// out of book. A replay with the same players, date and opening produces the
// same fingerprint as the first one.
func (g *Game) Fingerprint() Fingerprint {
	h := sha256.New()
	h.Write([]byte(fingerprintDomain))
	h.Write([]byte{0x00})
	writeField(h, g.White.Display())
	writeField(h, g.Black.Display())
	writeField(h, g.Date)
	for _, san := range g.BookLine() {
		writeField(h, san)
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// writeField length-prefixes s so field boundaries are unambiguous.
func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
