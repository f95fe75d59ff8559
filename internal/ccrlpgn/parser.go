package ccrlpgn

import (
	"fmt"
	"strings"

	chesslib "github.com/corentings/chess/v2"

	"github.com/park285/ccrl-live-notifier/internal/enginename"
)

const (
	headerWhite = "White"
	headerBlack = "Black"
	headerDate  = "Date"
	headerEvent = "Event"
	headerSite  = "Site"
)

var (
	ErrOrphanComment   = errf("comment without a preceding move")
	ErrUnannotatedMove = errf("move without an annotation comment")
	ErrMissingHeader   = errf("missing required header")
	ErrNoMoves         = errf("game has no annotated moves")
	ErrUnterminated    = errf("unterminated token")
	ErrBadMovetext     = errf("unreadable movetext")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Parse reads the first game of a PGN document. Variations are skipped whole,
// and every main-line move must be followed by exactly one comment; the comment
// decides whether the move came from the book. A move still waiting for its
// comment at the end of the document is dropped, since live feeds are written
// move first.
func Parse(text string) (*Game, error) {
	p := &parser{
		lex:     chesslib.NewLexer(stripLineComments(text)),
		headers: make(map[string]string),
	}
	if err := p.run(); err != nil {
		return nil, err
	}
	return p.build()
}

type parser struct {
	lex *chesslib.Lexer

	headers map[string]string
	moves   []Move
	pending string
	inMoves bool

	// tag pair being read
	inTag    bool
	tagKey   string
	tagValue string
	hasValue bool

	// comment being read
	inComment  bool
	comment    []string
	hasCommand bool

	depth int

	// SAN being assembled from move tokens; sanDone once it has a destination
	san     strings.Builder
	sanDone bool
}

func (p *parser) run() error {
	for {
		tok := p.lex.NextToken()
		if tok.Error != nil {
			if tok.Type == chesslib.EOF {
				return fmt.Errorf("%w: %v", ErrUnterminated, tok.Error)
			}
			return fmt.Errorf("%w: %v", ErrBadMovetext, tok.Error)
		}
		if tok.Type == chesslib.EOF {
			return p.finish()
		}

		if p.inTag {
			p.tagToken(tok)
			continue
		}
		if p.inComment {
			if err := p.commentToken(tok); err != nil {
				return err
			}
			continue
		}
		if p.depth > 0 {
			switch tok.Type {
			case chesslib.VariationStart:
				p.depth++
			case chesslib.VariationEnd:
				p.depth--
			case chesslib.CommentStart:
				p.inComment = true
			}
			continue
		}

		isMove, err := p.moveToken(tok)
		if err != nil {
			return err
		}
		if isMove {
			continue
		}
		if err := p.endMove(); err != nil {
			return err
		}

		switch tok.Type {
		case chesslib.TagStart:
			if p.inMoves {
				// start of the next game
				return nil
			}
			p.inTag = true
			p.tagKey, p.tagValue, p.hasValue = "", "", false
		case chesslib.CommentStart:
			p.inMoves = true
			p.inComment = true
			p.comment = p.comment[:0]
			p.hasCommand = false
		case chesslib.VariationStart:
			p.depth++
		case chesslib.RESULT:
			return nil
		case chesslib.Undefined:
			// "1/2-1/2" lexes as "1", "/", "2-1/2"
			if tok.Value == "/" && p.inMoves {
				return nil
			}
		case chesslib.MoveNumber:
			p.inMoves = true
		}
	}
}

func (p *parser) tagToken(tok chesslib.Token) {
	switch tok.Type {
	case chesslib.TagKey:
		if p.tagKey == "" {
			p.tagKey = tok.Value
		}
	case chesslib.TagValue:
		if !p.hasValue {
			p.tagValue, p.hasValue = tok.Value, true
		}
	case chesslib.TagEnd:
		p.inTag = false
		if p.tagKey != "" {
			p.headers[p.tagKey] = p.tagValue
		}
	}
}

// commentToken collects a comment body. Comments inside variations are read
// the same way and thrown away.
func (p *parser) commentToken(tok chesslib.Token) error {
	switch tok.Type {
	case chesslib.COMMENT:
		p.comment = append(p.comment, tok.Value)
	case chesslib.CommandStart:
		p.hasCommand = true
	case chesslib.CommentEnd:
		p.inComment = false
		if p.depth > 0 {
			return nil
		}
		return p.annotate(strings.Join(p.comment, " "), p.hasCommand)
	}
	return nil
}

// moveToken feeds SAN pieces into the move being assembled. It reports false
// for tokens that are not part of a move.
func (p *parser) moveToken(tok chesslib.Token) (bool, error) {
	switch tok.Type {
	case chesslib.KingsideCastle, chesslib.QueensideCastle:
		if err := p.endMove(); err != nil {
			return true, err
		}
		p.san.WriteString(tok.Value)
		p.sanDone = true
	case chesslib.PIECE, chesslib.FILE, chesslib.RANK, chesslib.DeambiguationSquare:
		if p.sanDone {
			if err := p.endMove(); err != nil {
				return true, err
			}
		}
		p.san.WriteString(tok.Value)
	case chesslib.SQUARE:
		if p.sanDone {
			if err := p.endMove(); err != nil {
				return true, err
			}
		}
		p.san.WriteString(tok.Value)
		p.sanDone = true
	case chesslib.CAPTURE, chesslib.PROMOTION, chesslib.PromotionPiece, chesslib.CHECK, chesslib.CHECKMATE:
		p.san.WriteString(tok.Value)
	default:
		return false, nil
	}
	p.inMoves = true
	return true, nil
}

// endMove hands the assembled SAN over as the move awaiting its comment.
func (p *parser) endMove() error {
	if p.san.Len() == 0 {
		return nil
	}
	san := p.san.String()
	p.san.Reset()
	p.sanDone = false
	if p.pending != "" {
		return fmt.Errorf("%w: %q followed by %q", ErrUnannotatedMove, p.pending, san)
	}
	p.pending = san
	return nil
}

func (p *parser) annotate(body string, hasCommand bool) error {
	if p.pending == "" {
		return fmt.Errorf("%w: {%s}", ErrOrphanComment, truncate(body, 40))
	}
	p.moves = append(p.moves, Move{SAN: p.pending, Book: body == BookComment && !hasCommand})
	p.pending = ""
	return nil
}

func (p *parser) finish() error {
	switch {
	case p.inTag:
		return fmt.Errorf("%w: tag %q", ErrUnterminated, p.tagKey)
	case p.inComment:
		return fmt.Errorf("%w: comment", ErrUnterminated)
	case p.depth > 0:
		return fmt.Errorf("%w: variation", ErrUnterminated)
	}
	return p.endMove()
}

func (p *parser) build() (*Game, error) {
	white := strings.TrimSpace(p.headers[headerWhite])
	black := strings.TrimSpace(p.headers[headerBlack])
	date, hasDate := p.headers[headerDate]
	switch {
	case white == "":
		return nil, fmt.Errorf("%w: %s", ErrMissingHeader, headerWhite)
	case black == "":
		return nil, fmt.Errorf("%w: %s", ErrMissingHeader, headerBlack)
	case !hasDate:
		return nil, fmt.Errorf("%w: %s", ErrMissingHeader, headerDate)
	}
	if len(p.moves) == 0 {
		return nil, ErrNoMoves
	}

	event := strings.TrimSpace(p.headers[headerEvent])
	if event == "" || event == "?" {
		event = strings.TrimSpace(p.headers[headerSite])
	}

	moves := make([]Move, len(p.moves))
	copy(moves, p.moves)
	return &Game{
		White: enginename.New(white),
		Black: enginename.New(black),
		Date:  date,
		Event: event,
		Moves: moves,
	}, nil
}

// stripLineComments drops ";" comments, which the lexer does not know. Braced
// comments and quoted tag values are copied through untouched.
func stripLineComments(text string) string {
	if !strings.Contains(text, ";") {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	inBrace, inQuote := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case inBrace:
			inBrace = c != '}'
		case inQuote:
			inQuote = c != '"'
		case c == '{':
			inBrace = true
		case c == '"':
			inQuote = true
		case c == ';':
			for i < len(text) && text[i] != '\n' {
				i++
			}
			if i < len(text) {
				b.WriteByte('\n')
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
