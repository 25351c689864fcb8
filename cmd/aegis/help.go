package main

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/aegis/internal/ui"
	"github.com/spf13/cobra"
)

// envAnnotation names the cobra annotation listing the comma-separated
// environment variables a command reads. They are shown under "Environment:".
const envAnnotation = "aegis/env"

var (
	// "Server:", "Flags:", "Environment:"
	reGroupHeader = regexp.MustCompile(`(?m)^([A-Z][^\n]*:)\s*$`)

	// "  serve     Start the command center"
	reCommand = regexp.MustCompile(`(?m)^(  )(\S+)(  )`)

	reFlagType = regexp.MustCompile(`(--?\S+\s+)(string|int|int64|duration|strings)`)
	reDefault  = regexp.MustCompile(`\(default [^)]*\)`)
	reEnvVar   = regexp.MustCompile(`\bAEGIS_[A-Z0-9_]+\b`)
)

// withEnv records the environment variables cmd reads for its help text.
func withEnv(cmd *cobra.Command, vars ...string) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = make(map[string]string)
	}
	cmd.Annotations[envAnnotation] = strings.Join(vars, ",")
	return cmd
}

// envSection renders the "Environment:" block for cmd, or "" if it reads
// none. Values currently set are shown; anything that looks like a secret
// or a connection string is masked.
func envSection(cmd *cobra.Command, getenv func(string) string) string {
	list := cmd.Annotations[envAnnotation]
	if list == "" {
		return ""
	}
	var buf bytes.Buffer
	buf.WriteString("\nEnvironment:\n")
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	for _, name := range strings.Split(list, ",") {
		val := getenv(name)
		switch {
		case val == "":
			val = "(unset)"
		case strings.Contains(name, "TOKEN"), strings.Contains(name, "DATABASE_URL"):
			val = "(set)"
		}
		fmt.Fprintf(tw, "  %s\t%s\n", name, val)
	}
	tw.Flush()
	return buf.String()
}

// colorizedHelpFunc prints cobra's usage followed by the command's
// environment block, colorized when the terminal supports it.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		orig := cmd.OutOrStdout()
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(orig)
		buf.WriteString(envSection(cmd, os.Getenv))

		out := buf.String()
		if ui.ShouldUseColor() {
			out = colorizeHelpOutput(out)
		}
		fmt.Fprint(orig, out)
	}
}

func colorizeHelpOutput(s string) string {
	s = reGroupHeader.ReplaceAllStringFunc(s, func(match string) string {
		return ui.RenderAccent(strings.TrimSpace(match))
	})
	s = reCommand.ReplaceAllStringFunc(s, func(match string) string {
		parts := reCommand.FindStringSubmatch(match)
		return parts[1] + ui.RenderSuccess(parts[2]) + parts[3]
	})
	s = reFlagType.ReplaceAllStringFunc(s, func(match string) string {
		parts := reFlagType.FindStringSubmatch(match)
		return parts[1] + ui.RenderMuted(parts[2])
	})
	s = reEnvVar.ReplaceAllStringFunc(s, ui.RenderWarning)
	return reDefault.ReplaceAllStringFunc(s, ui.RenderMuted)
}
