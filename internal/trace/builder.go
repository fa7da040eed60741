// Package trace builds the indented, human-readable log of a single setting
// evaluation. The log mirrors the decision path of the evaluator and is used
// for diagnostics only.
//
// Every Builder method is safe to call on a nil *Builder, so callers can keep
// a single code path whether tracing is enabled or not.
package trace

import "strings"

const indentUnit = "  "

// Builder accumulates trace lines.
type Builder struct {
	sb     strings.Builder
	indent int
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{}
}

// Enabled reports whether b records anything.
func (b *Builder) Enabled() bool {
	return b != nil
}

// IncreaseIndent nests subsequent lines one level deeper.
func (b *Builder) IncreaseIndent() *Builder {
	if b != nil {
		b.indent++
	}
	return b
}

// DecreaseIndent undoes one IncreaseIndent.
func (b *Builder) DecreaseIndent() *Builder {
	if b != nil && b.indent > 0 {
		b.indent--
	}
	return b
}

// NewLine starts a new line at the current indentation and writes text to it.
// The first line of the trace is not preceded by a line break.
func (b *Builder) NewLine(text string) *Builder {
	if b == nil {
		return b
	}
	if b.sb.Len() > 0 {
		b.sb.WriteByte('\n')
	}
	b.sb.WriteString(strings.Repeat(indentUnit, b.indent))
	b.sb.WriteString(text)
	return b
}

// Append writes text to the end of the current line.
func (b *Builder) Append(text string) *Builder {
	if b != nil {
		b.sb.WriteString(text)
	}
	return b
}

func (b *Builder) String() string {
	if b == nil {
		return ""
	}
	return b.sb.String()
}
