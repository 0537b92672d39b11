package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed, color.Bold)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
	faint  = color.New(color.Faint)
)

func printSuccess(format string, args ...any) {
	green.Fprintln(os.Stderr, "✓ "+fmt.Sprintf(format, args...))
}

func printError(format string, args ...any) {
	red.Fprintln(os.Stderr, "✗ "+fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...any) {
	yellow.Fprintln(os.Stderr, "⚠ "+fmt.Sprintf(format, args...))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", bold.Sprint(label+":"), fmt.Sprintf(format, args...))
}

func printStep(format string, args ...any) {
	cyan.Fprintln(os.Stderr, "→ "+fmt.Sprintf(format, args...))
}

// urgencyColor highlights what needs attention first.
func urgencyColor(urgency string) *color.Color {
	switch urgency {
	case "DoNow":
		return red
	case "DoToday":
		return yellow
	default:
		return faint
	}
}

// printItems writes one line per item:
//
//	#12  DoNow      High    ToDo   Renew passport   (AI)  due 2025-03-01
func printItems(w io.Writer, items []itemView) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No items.")
		return
	}
	for _, it := range items {
		var extra []string
		if it.HasAIChanges {
			extra = append(extra, cyan.Sprint("(AI)"))
		}
		if it.Deadline != nil {
			extra = append(extra, "due "+it.Deadline.Format("2006-01-02"))
		}
		if it.Status != "Active" {
			extra = append(extra, faint.Sprint(it.Status))
		}
		fmt.Fprintf(w, "%s  %s %-6s %-12s %s  %s\n",
			bold.Sprintf("#%-4d", it.HumanID),
			urgencyColor(it.Urgency).Sprintf("%-10s", it.Urgency),
			it.Importance,
			it.Tag,
			it.Title,
			strings.Join(extra, "  "),
		)
	}
}
