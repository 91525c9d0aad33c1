package ui

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const headerWidth = 78

var logo = []string{
	"  ▄▀▀▀▀▀▄  ",
	" █  ◉ ◉  █ ",
	"  ▀▄▄▄▄▄▀  ",
}

// RenderHeader draws the welcome panel shown when the REPL starts.
func RenderHeader(version, user, mode, backend string) string {
	var body []string
	body = append(body, "", Color(Bold, fmt.Sprintf("Hey %s, Neuna here.", user)), "")
	for _, l := range logo {
		body = append(body, Color(Magenta, l))
	}
	body = append(body, "", Color(Bold+Cyan, "NEUNA 2.0"), "")

	var sb strings.Builder
	title := fmt.Sprintf(" Neuna v%s ", version)
	rest := max(headerWidth-5-utf8.RuneCountInString(title), 0)
	sb.WriteString(Color(Cyan, BoxTopLeft+strings.Repeat(BoxHorizontal, 3)))
	sb.WriteString(Color(Cyan+Bold, title))
	sb.WriteString(Color(Cyan, strings.Repeat(BoxHorizontal, rest)+BoxTopRight) + "\n")
	for _, line := range body {
		sb.WriteString(panelLine(line, true))
	}
	sb.WriteString(panelLine(Color(Dim, "mode:")+" "+mode+"    "+Color(Dim, "backend:")+" "+backend, false))
	sb.WriteString(panelLine("", true))
	sb.WriteString(Color(Cyan, BoxBottomLeft+strings.Repeat(BoxHorizontal, headerWidth-2)+BoxBottomRight) + "\n")
	return sb.String()
}

// panelLine frames text between the header's side borders, centered or
// left-aligned with one space of margin.
func panelLine(text string, center bool) string {
	inner := headerWidth - 2
	n := visibleLength(text)
	left := 1
	if center {
		left = (inner - n) / 2
	}
	left = max(left, 0)
	right := max(inner-left-n, 0)
	return Color(Cyan, BoxVertical) + strings.Repeat(" ", left) + text + strings.Repeat(" ", right) + Color(Cyan, BoxVertical) + "\n"
}

// visibleLength counts runes outside ANSI escape sequences.
func visibleLength(s string) int {
	n := 0
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\033':
			inEscape = true
		case inEscape:
			inEscape = r != 'm'
		default:
			n++
		}
	}
	return n
}

// RenderMessage formats a chat message with role styling
func RenderMessage(role, text string) string {
	switch role {
	case "user":
		return fmt.Sprintf("%s %s", Color(Bold+Green, "You:"), text)
	case "assistant":
		return fmt.Sprintf("%s %s", Color(Bold+Blue, "Neuna:"), text)
	case "system":
		return Color(Dim, text)
	default:
		return text
	}
}

var replCommands = []string{
	"/mode <chat|camera|notes|dashboard>", "/roast", "/listen", "/notes <topic>",
	"/weather", "/devices", "/toggle <id>", "/set <id> <value>",
	"/history", "/clear", "/stop", "/exit",
}

// RenderHelpLines lists the REPL slash commands.
func RenderHelpLines() string {
	return Color(Dim, "  Commands: ") + strings.Join(replCommands, Color(Dim, " · ")) + "\n" +
		Color(Dim, "  Ctrl+C cancels a pending reply") + "\n\n"
}

// RenderUserPrompt returns the styled "You: " prompt
func RenderUserPrompt() string {
	return Color(Bold+Green, "You: ")
}

// RenderAssistantPrefix returns the styled "Neuna: " prefix
func RenderAssistantPrefix() string {
	return Color(Bold+Blue, "Neuna: ")
}

// RenderError formats an error message
func RenderError(err error) string {
	return Color(Red, fmt.Sprintf("Error: %v", err))
}

// RenderSuccess formats a success message
func RenderSuccess(msg string) string {
	return Color(Green, msg)
}

// RenderDim formats text in dim style
func RenderDim(msg string) string {
	return Color(Dim, msg)
}

// RenderModeIndicator returns the bracketed mode badge shown before prompts.
func RenderModeIndicator(mode string) string {
	return Color(Magenta+Bold, "["+strings.ToUpper(mode)+"]")
}

// RenderSources lists grounding links under a reply.
func RenderSources(uris []string) string {
	if len(uris) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(Color(Dim, "  Sources:"))
	sb.WriteString("\n")
	for _, u := range uris {
		sb.WriteString(Color(Dim, "   - "+u))
		sb.WriteString("\n")
	}
	return sb.String()
}
