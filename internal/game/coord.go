package game

import (
	"fmt"
	"strconv"
)

// Coord is a board cell in canonical form: row 0..9 (A..J), col 0..9 (1..10).
type Coord struct {
	Row int
	Col int
}

// String renders the coordinate in its external form, e.g. "A1" or "J10".
func (c Coord) String() string {
	return fmt.Sprintf("%c%d", 'A'+rune(c.Row), c.Col+1)
}

// ParseCoord parses an external coordinate like "A1" or "J10".
// The format is strict: 2-3 characters, uppercase row letter A-J,
// column number 1-10. Anything else is an input error.
func ParseCoord(s string) (Coord, error) {
	if len(s) < 2 || len(s) > 3 {
		return Coord{}, fmt.Errorf("invalid coordinate format %q, expected e.g. A1 or J10", s)
	}

	rowLetter := s[0]
	if rowLetter < 'A' || rowLetter > 'A'+BoardSize-1 {
		return Coord{}, fmt.Errorf("invalid row letter %q, must be A-%c", string(rowLetter), 'A'+BoardSize-1)
	}

	for i := 1; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return Coord{}, fmt.Errorf("column part %q must be a number", s[1:])
		}
	}
	if len(s) == 3 && s[1] == '0' {
		return Coord{}, fmt.Errorf("column part %q must not be zero-padded", s[1:])
	}
	col, err := strconv.Atoi(s[1:])
	if err != nil {
		return Coord{}, fmt.Errorf("column part %q must be a number", s[1:])
	}
	if col < 1 || col > BoardSize {
		return Coord{}, fmt.Errorf("coordinate %s is out of board range (A1-%c%d)", s, 'A'+BoardSize-1, BoardSize)
	}

	return Coord{Row: int(rowLetter - 'A'), Col: col - 1}, nil
}
