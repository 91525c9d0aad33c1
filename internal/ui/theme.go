// Package ui renders the neuna terminal: colors, boxes, cards and the
// thinking spinner. Color is dropped when stdout is not a terminal or
// NO_COLOR is set.
package ui

import (
	"os"

	"golang.org/x/term"
)

// ANSI styles
const (
	Reset   = "\033[0m"
	Bold    = "\033[1m"
	Dim     = "\033[2m"
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
)

// Rounded box glyphs shared by the header and cards.
const (
	BoxTopLeft     = "╭"
	BoxTopRight    = "╮"
	BoxBottomLeft  = "╰"
	BoxBottomRight = "╯"
	BoxHorizontal  = "─"
	BoxVertical    = "│"
	BoxTeeRight    = "├"
	BoxTeeLeft     = "┤"
)

var (
	stdoutTTY    = term.IsTerminal(int(os.Stdout.Fd()))
	stderrTTY    = term.IsTerminal(int(os.Stderr.Fd()))
	colorEnabled = stdoutTTY && os.Getenv("NO_COLOR") == ""
)

// SetNoColor turns color off for the rest of the process. Passing false
// never re-enables it.
func SetNoColor(disable bool) {
	if disable {
		colorEnabled = false
	}
}

// Color wraps text in an ANSI style when color is on.
func Color(style, text string) string {
	if !colorEnabled {
		return text
	}
	return style + text + Reset
}
