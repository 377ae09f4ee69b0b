package openformats

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
)

// LineReader walks a text stream one line at a time. Every parser in this
// package is built on it.
type LineReader struct {
	rd      *bufio.Reader
	line    int
	pending *string
}

func NewLineReader(r io.Reader) *LineReader {
	return NewLineReaderEncoding(r, nil)
}

// NewLineReaderEncoding decodes r with enc before splitting it into lines.
// A nil enc reads UTF-8 and drops a leading byte order mark.
func NewLineReaderEncoding(r io.Reader, enc encoding.Encoding) *LineReader {
	return &LineReader{rd: bufio.NewReader(decodingReader(r, enc))}
}

// LineNumber is the 1-based number of the last line returned.
func (r *LineReader) LineNumber() int {
	return r.line
}

// ReadLine returns the next line without its terminator. io.EOF is returned
// once the stream is exhausted.
func (r *LineReader) ReadLine() (string, error) {
	if r.pending != nil {
		s := *r.pending
		r.pending = nil
		r.line++
		return s, nil
	}
	s, err := r.rd.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", errors.Wrap(err, "read line")
	}
	if err == io.EOF && s == "" {
		return "", io.EOF
	}
	r.line++
	return strings.TrimRight(s, "\r\n"), nil
}

// UnreadLine pushes one line back so the next ReadLine returns it again.
func (r *LineReader) UnreadLine(s string) {
	r.line--
	r.pending = &s
}

// ReadUntil consumes lines until one contains marker and returns it.
// Running out of input is not an error: found is false and line is empty.
func (r *LineReader) ReadUntil(marker string) (line string, found bool, err error) {
	for {
		s, err := r.ReadLine()
		if err == io.EOF {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		if strings.Contains(s, marker) {
			return s, true, nil
		}
	}
}

// nextSignificant skips blank lines.
func (r *LineReader) nextSignificant() (string, error) {
	for {
		s, err := r.ReadLine()
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(s) != "" {
			return s, nil
		}
	}
}

func keyword(line string) (string, []string) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return "", nil
	}
	return f[0], f[1:]
}

func isOpenBrace(line string) bool {
	return strings.TrimSpace(line) == "{"
}

func isCloseBrace(line string) bool {
	return strings.TrimSpace(line) == "}"
}
