package ui

import (
	"fmt"
	"strings"
)

// CardRow is one "label: value" line of a card.
type CardRow struct {
	Label string
	Value string
	// Color styles the value; empty means plain.
	Color string
}

// CardOptions configures the card display
type CardOptions struct {
	Title  string
	Rows   []CardRow
	Body   string // wrapped below the rows, after a separator
	Accent string // border color, defaults to Cyan
	Width  int
}

// RenderCard displays a boxed card with a title, labelled rows and an
// optional wrapped body.
func RenderCard(opts CardOptions) string {
	width := opts.Width
	if width <= 0 {
		width = 70
	}
	accent := opts.Accent
	if accent == "" {
		accent = Cyan
	}

	var sb strings.Builder

	// Top border with title
	title := fmt.Sprintf(" %s ", opts.Title)
	topPadding := width - 4 - visibleLength(title)
	if topPadding < 0 {
		topPadding = 0
	}
	sb.WriteString("\n")
	sb.WriteString(Color(accent, BoxTopLeft+strings.Repeat(BoxHorizontal, 2)))
	sb.WriteString(Color(accent+Bold, title))
	sb.WriteString(Color(accent, strings.Repeat(BoxHorizontal, topPadding)+BoxTopRight))
	sb.WriteString("\n")

	for _, row := range opts.Rows {
		value := truncate(row.Value, width-8-len(row.Label))
		styled := value
		if row.Color != "" {
			styled = Color(row.Color, value)
		}
		sb.WriteString(Color(accent, BoxVertical))
		sb.WriteString(fmt.Sprintf(" %s %s", Color(Dim, row.Label+":"), styled))
		if pad := width - 5 - len(row.Label) - visibleLength(value); pad > 0 {
			sb.WriteString(strings.Repeat(" ", pad))
		}
		sb.WriteString(Color(accent, BoxVertical))
		sb.WriteString("\n")
	}

	if opts.Body != "" {
		if len(opts.Rows) > 0 {
			sb.WriteString(Color(accent, BoxTeeRight+strings.Repeat(BoxHorizontal, width-2)+BoxTeeLeft))
			sb.WriteString("\n")
		}
		for _, line := range wrapText(opts.Body, width-4) {
			sb.WriteString(Color(accent, BoxVertical))
			sb.WriteString(" ")
			sb.WriteString(line)
			if pad := width - 3 - visibleLength(line); pad > 0 {
				sb.WriteString(strings.Repeat(" ", pad))
			}
			sb.WriteString(Color(accent, BoxVertical))
			sb.WriteString("\n")
		}
	}

	// Bottom border
	sb.WriteString(Color(accent, BoxBottomLeft+strings.Repeat(BoxHorizontal, width-2)+BoxBottomRight))
	sb.WriteString("\n")

	return sb.String()
}

// RenderTable renders rows as left-aligned columns under a dim header.
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = visibleLength(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if n := visibleLength(row[i]); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string, style string) {
		sb.WriteString("  ")
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if style != "" {
				sb.WriteString(Color(style, cell))
			} else {
				sb.WriteString(cell)
			}
			if i < len(widths)-1 {
				sb.WriteString(strings.Repeat(" ", widths[i]-visibleLength(cell)+2))
			}
		}
		sb.WriteString("\n")
	}

	writeRow(headers, Dim)
	for _, row := range rows {
		writeRow(row, "")
	}
	return sb.String()
}

// truncate shortens a string if it exceeds maxLen
func truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		return s
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// wrapText wraps text to fit within the specified width
func wrapText(s string, width int) []string {
	if width <= 0 {
		return []string{s}
	}

	var lines []string
	words := strings.Fields(s)
	var current string

	for _, word := range words {
		if len(current)+len(word)+1 > width {
			if current != "" {
				lines = append(lines, current)
			}
			current = word
		} else {
			if current != "" {
				current += " "
			}
			current += word
		}
	}

	if current != "" {
		lines = append(lines, current)
	}

	return lines
}
