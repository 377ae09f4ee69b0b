package openformats

import (
	"io"
	"math"
	"strconv"
	"strings"
)

// composer accumulates a whole document in memory with tab indentation.
type composer struct {
	sb    strings.Builder
	depth int
}

func (c *composer) line(parts ...string) {
	for i := 0; i < c.depth; i++ {
		c.sb.WriteByte('\t')
	}
	c.sb.WriteString(strings.Join(parts, " "))
	c.sb.WriteByte('\n')
}

func (c *composer) open(header ...string) {
	if len(header) > 0 {
		c.line(header...)
	}
	c.line("{")
	c.depth++
}

func (c *composer) close() {
	if c.depth > 0 {
		c.depth--
	}
	c.line("}")
}

func (c *composer) String() string {
	return c.sb.String()
}

// flush writes the buffered document with a single Write call.
func (c *composer) flush(w io.Writer) error {
	_, err := io.WriteString(w, c.sb.String())
	return err
}

func formatFloat(f float64) string {
	if f == 0 || math.IsNaN(f) {
		f = 0
	}
	s := strconv.FormatFloat(f, 'f', FLOAT_DECIMALS, 64)
	// values that round to zero drop their sign
	if s[0] == '-' && strings.Trim(s[1:], "0.") == "" {
		s = s[1:]
	}
	return s
}

func formatFloats32(v ...float32) string {
	s := make([]string, len(v))
	for i := range v {
		s[i] = formatFloat(float64(v[i]))
	}
	return strings.Join(s, " ")
}

func formatFloats64(v ...float64) string {
	s := make([]string, len(v))
	for i := range v {
		s[i] = formatFloat(v[i])
	}
	return strings.Join(s, " ")
}

func formatInts(v ...int) string {
	s := make([]string, len(v))
	for i := range v {
		s[i] = strconv.Itoa(v[i])
	}
	return strings.Join(s, " ")
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func parseFloats(tokens []string, n int) ([]float32, error) {
	if len(tokens) < n {
		return nil, strconv.ErrSyntax
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		f, err := strconv.ParseFloat(tokens[i], 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(f)
	}
	return out, nil
}

func parseInts(tokens []string, n int) ([]int, error) {
	if len(tokens) < n {
		return nil, strconv.ErrSyntax
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		v, err := strconv.Atoi(tokens[i])
		if err != nil {
			f, ferr := strconv.ParseFloat(tokens[i], 64)
			if ferr != nil || f != math.Trunc(f) {
				return nil, err
			}
			v = int(f)
		}
		out[i] = v
	}
	return out, nil
}
