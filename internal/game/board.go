package game

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// BoardSize is the side length of the square grid.
const BoardSize = 10

// Cell states on the truth grid. The public grid uses the same glyphs
// with unhit ship cells masked as water.
const (
	CellEmpty = '.'
	CellShip  = 'S'
	CellHit   = 'X'
	CellMiss  = 'o'
)

// Orientation of a ship placement.
type Orientation int

const (
	Horizontal Orientation = iota // extends toward larger column
	Vertical                      // extends toward larger row
)

// ParseOrientation maps the wire tokens "H" and "V".
func ParseOrientation(s string) (Orientation, error) {
	switch s {
	case "H":
		return Horizontal, nil
	case "V":
		return Vertical, nil
	default:
		return 0, fmt.Errorf("invalid orientation %q, use 'H' or 'V'", s)
	}
}

// ShipSpec describes one fleet entry.
type ShipSpec struct {
	Name string
	Size int
}

// Fleet is the canonical fleet in placement order. Order matters: random
// placement reproducibility and the manual placement prompt sequence both
// follow it.
var Fleet = []ShipSpec{
	{"Carrier", 5},
	{"Battleship", 4},
	{"Cruiser", 3},
	{"Submarine", 3},
	{"Destroyer", 2},
}

// Ship is a placed ship with the cells not yet hit.
type ship struct {
	name      string
	remaining map[Coord]struct{}
}

// Outcome of a single shot.
type Outcome int

const (
	OutcomeHit Outcome = iota
	OutcomeMiss
	OutcomeAlreadyShot
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return "hit"
	case OutcomeMiss:
		return "miss"
	case OutcomeAlreadyShot:
		return "already_shot"
	default:
		return "error"
	}
}

// View selects which rendering of a board to produce.
type View int

const (
	// TruthView includes unhit ships. Shown only to the owning player.
	TruthView View = iota
	// PublicView masks unhit ships. Shown to opponents and spectators.
	PublicView
)

// Board holds one player's grid: the truth grid with ships and the set of
// placed ships with their remaining cells. Board is not safe for concurrent
// use; the match controller owns it exclusively.
type Board struct {
	truth [BoardSize][BoardSize]byte
	ships []ship
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	b := &Board{}
	for r := range BoardSize {
		for c := range BoardSize {
			b.truth[r][c] = CellEmpty
		}
	}
	return b
}

// CanPlace reports whether a ship of the given size fits at the coordinate
// with the given orientation without leaving the board or touching cells
// already occupied.
func (b *Board) CanPlace(at Coord, size int, o Orientation) bool {
	if at.Row < 0 || at.Row >= BoardSize || at.Col < 0 || at.Col >= BoardSize {
		return false
	}
	dr, dc := 0, 1
	if o == Vertical {
		dr, dc = 1, 0
	}
	for i := range size {
		r, c := at.Row+dr*i, at.Col+dc*i
		if r >= BoardSize || c >= BoardSize {
			return false
		}
		if b.truth[r][c] != CellEmpty {
			return false
		}
	}
	return true
}

// Place puts a named ship on the board. The caller must have verified the
// placement with CanPlace; Place returns an error otherwise and leaves the
// board untouched.
func (b *Board) Place(spec ShipSpec, at Coord, o Orientation) error {
	if !b.CanPlace(at, spec.Size, o) {
		return fmt.Errorf("cannot place %s at %s: overlaps existing ships or is out of bounds", spec.Name, at)
	}
	dr, dc := 0, 1
	if o == Vertical {
		dr, dc = 1, 0
	}
	s := ship{name: spec.Name, remaining: make(map[Coord]struct{}, spec.Size)}
	for i := range spec.Size {
		cell := Coord{Row: at.Row + dr*i, Col: at.Col + dc*i}
		b.truth[cell.Row][cell.Col] = CellShip
		s.remaining[cell] = struct{}{}
	}
	b.ships = append(b.ships, s)
	return nil
}

// PlaceRandom places the whole fleet by rejection sampling against CanPlace.
// Deterministic for a given rng, which is what the tests rely on.
func (b *Board) PlaceRandom(rng *rand.Rand) {
	for _, spec := range Fleet {
		for {
			o := Orientation(rng.IntN(2))
			at := Coord{Row: rng.IntN(BoardSize), Col: rng.IntN(BoardSize)}
			if b.CanPlace(at, spec.Size, o) {
				if err := b.Place(spec, at, o); err == nil {
					break
				}
			}
		}
	}
}

// FireAt resolves a shot. Live ship cells mutate exactly once; repeated
// shots on an X or o cell return OutcomeAlreadyShot without mutation.
// The sunk name is returned only on the shot that removes the ship's last
// remaining cell.
func (b *Board) FireAt(at Coord) (Outcome, string) {
	switch b.truth[at.Row][at.Col] {
	case CellShip:
		b.truth[at.Row][at.Col] = CellHit
		return OutcomeHit, b.markHit(at)
	case CellEmpty:
		b.truth[at.Row][at.Col] = CellMiss
		return OutcomeMiss, ""
	case CellHit, CellMiss:
		return OutcomeAlreadyShot, ""
	}
	return OutcomeError, ""
}

func (b *Board) markHit(at Coord) string {
	for i := range b.ships {
		if _, ok := b.ships[i].remaining[at]; ok {
			delete(b.ships[i].remaining, at)
			if len(b.ships[i].remaining) == 0 {
				return b.ships[i].name
			}
			return ""
		}
	}
	return ""
}

// Finished reports whether every placed ship is sunk. An empty board is
// never finished.
func (b *Board) Finished() bool {
	if len(b.ships) == 0 {
		return false
	}
	for i := range b.ships {
		if len(b.ships[i].remaining) > 0 {
			return false
		}
	}
	return true
}

// ShipsPlaced returns the number of ships placed so far.
func (b *Board) ShipsPlaced() int {
	return len(b.ships)
}

func (b *Board) cell(r, c int, v View) byte {
	cell := b.truth[r][c]
	if v == PublicView && cell == CellShip {
		return CellEmpty
	}
	return cell
}

// Render produces the text form of the grid: a header of right-justified
// column numbers followed by ten labelled rows of space-joined cells.
func (b *Board) Render(v View) string {
	var sb strings.Builder
	sb.WriteString(renderHeader())
	for r := range BoardSize {
		sb.WriteByte('\n')
		sb.WriteString(fmt.Sprintf("%-2c", 'A'+rune(r)))
		for c := range BoardSize {
			sb.WriteByte(' ')
			sb.WriteByte(b.cell(r, c, v))
		}
	}
	return sb.String()
}

func renderHeader() string {
	var sb strings.Builder
	sb.WriteString("  ")
	for c := 1; c <= BoardSize; c++ {
		sb.WriteString(fmt.Sprintf("%2d", c))
	}
	return sb.String()
}

// RenderSideBySide renders the public views of two boards next to each
// other for spectator broadcasts. Spectators never see unhit ships.
func RenderSideBySide(leftName string, left *Board, rightName string, right *Board) string {
	const gap = "    "
	l := strings.Split(left.Render(PublicView), "\n")
	r := strings.Split(right.Render(PublicView), "\n")

	var sb strings.Builder
	width := len(l[0])
	sb.WriteString(fmt.Sprintf("%-*s%s", width+len(gap), leftName, rightName))
	for i := range l {
		sb.WriteByte('\n')
		sb.WriteString(fmt.Sprintf("%-*s%s%s", width, l[i], gap, r[i]))
	}
	return sb.String()
}
