package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// formatTime returns a compact timestamp for display, relative to now.
func formatTime(t, now time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	if t.Year() == now.Year() {
		return t.Local().Format("Jan _2 15:04")
	}

	return t.Local().Format("Jan _2  2006")
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
