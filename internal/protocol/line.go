package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// gridMarker opens a multi-line grid block on the line framing. The block
// is the marker line, a header line, ten grid rows, then an empty line.
const gridMarker = "GRID"

// LineCodec is the baseline framing: newline-delimited UTF-8 text.
// Board updates travel as a grid block which is written with a single
// Write call so a concurrent reader never observes a torn grid.
type LineCodec struct {
	br *bufio.Reader
	w  io.Writer
}

// NewLineCodec wraps rw in the line framing.
func NewLineCodec(rw io.ReadWriter) *LineCodec {
	return &LineCodec{br: bufio.NewReader(rw), w: rw}
}

// ReadFrame reads one frame. A plain line comes back as KindUserInput.
// A grid block is buffered until its terminating empty line and comes
// back as a single KindBoard frame whose payload excludes the marker and
// terminator.
func (c *LineCodec) ReadFrame() (Frame, error) {
	line, err := c.readLine()
	if err != nil {
		return Frame{}, err
	}

	if line != gridMarker {
		return Frame{Kind: KindUserInput, Payload: line}, nil
	}

	var block []string
	for {
		row, err := c.readLine()
		if err != nil {
			return Frame{}, fmt.Errorf("reading grid block: %w", err)
		}
		if row == "" {
			break
		}
		block = append(block, row)
	}
	return Frame{Kind: KindBoard, Payload: strings.Join(block, "\n")}, nil
}

func (c *LineCodec) readLine() (string, error) {
	line, err := c.br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// WriteFrame writes one frame. The whole frame, grid block included, is a
// single Write on the underlying connection.
func (c *LineCodec) WriteFrame(f Frame) error {
	var out string
	if f.Kind == KindBoard {
		out = gridMarker + "\n" + f.Payload + "\n\n"
	} else {
		out = f.Payload + "\n"
	}
	if _, err := io.WriteString(c.w, out); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}
