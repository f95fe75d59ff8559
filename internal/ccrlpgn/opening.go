package ccrlpgn

import (
	"sync"

	chesslib "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

var (
	ecoOnce sync.Once
	ecoBook *opening.BookECO
)

func loadECO() *opening.BookECO {
	ecoOnce.Do(func() {
		ecoBook = opening.NewBookECO()
	})
	return ecoBook
}

// Opening names the book line by ECO code and title. Replay stops at the first
// SAN the chess library rejects; an empty result means no opening was found.
func Opening(g *Game) (code, title string) {
	if g == nil {
		return "", ""
	}
	game := chesslib.NewGame()
	for _, san := range g.BookLine() {
		if err := game.PushNotationMove(san, chesslib.AlgebraicNotation{}, nil); err != nil {
			break
		}
	}
	moves := game.Moves()
	if len(moves) == 0 {
		return "", ""
	}
	book := loadECO()
	if book == nil {
		return "", ""
	}
	if eco := book.Find(moves); eco != nil {
		return eco.Code(), eco.Title()
	}
	return "", ""
}
