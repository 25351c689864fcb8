package ui

import (
	"fmt"
	"strings"
)

// ANSI256 color codes for the console palette.
const (
	colorAccent  = 44  // teal, the highlight color of the operator console
	colorSuccess = 78  // green
	colorWarning = 214 // amber
	colorError   = 203 // red
	colorMuted   = 245 // medium gray
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderSuccess returns s in green.
func RenderSuccess(s string) string { return render(colorSuccess, s) }

// RenderWarning returns s in amber.
func RenderWarning(s string) string { return render(colorWarning, s) }

// RenderError returns s in red.
func RenderError(s string) string { return render(colorError, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderLogLine colors a console log line by its prefix: "[+]" connects,
// "[-]" disconnects, "[!]" and "Server error" failures. Device message
// lines ("[id] ...") get an accented device tag.
func RenderLogLine(line string) string {
	switch {
	case strings.HasPrefix(line, "[+]"):
		return RenderSuccess(line)
	case strings.HasPrefix(line, "[-]"):
		return RenderWarning(line)
	case strings.HasPrefix(line, "[!]"), strings.HasPrefix(line, "Server error"):
		return RenderError(line)
	case strings.HasPrefix(line, "["):
		if end := strings.Index(line, "] "); end > 0 {
			return RenderAccent(line[:end+1]) + line[end+1:]
		}
	}
	return line
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// Configure disables color when ShouldUseColor reports false.
func Configure() {
	if !ShouldUseColor() {
		ForceNoColor()
	}
}
