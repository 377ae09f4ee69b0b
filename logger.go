package openformats

import (
	"fmt"
	"io"
)

// Logger writes diagnostics to the wrapped writer. A nil *Logger discards everything.
type Logger struct {
	io.Writer
}

func NewLogger(w io.Writer) *Logger {
	if w == nil {
		return nil
	}
	return &Logger{Writer: w}
}

func (l *Logger) Printf(format string, a ...interface{}) {
	if l != nil && l.Writer != nil {
		fmt.Fprintf(l, format+"\n", a...)
	}
}
