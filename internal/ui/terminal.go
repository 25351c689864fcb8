package ui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// ShouldUseColor reports whether ANSI colors should be written to stdout.
func ShouldUseColor() bool {
	return colorWanted(os.Getenv, term.IsTerminal(int(os.Stdout.Fd())))
}

// colorWanted applies the NO_COLOR / CLICOLOR conventions, in priority order,
// on top of TTY detection. AEGIS_COLOR=always|never overrides all of them.
func colorWanted(getenv func(string) string, tty bool) bool {
	switch strings.ToLower(strings.TrimSpace(getenv("AEGIS_COLOR"))) {
	case "always":
		return true
	case "never":
		return false
	}
	if getenv("NO_COLOR") != "" {
		return false
	}
	if strings.TrimSpace(getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(getenv("CLICOLOR")) == "0" {
		return false
	}
	return tty
}
