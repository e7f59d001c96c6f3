package termcolor

import (
	"os"

	"golang.org/x/term"
)

// IsTerminal reports whether the given file descriptor refers to a terminal.
func IsTerminal(fd uintptr) bool {
	return term.IsTerminal(int(fd)) //nolint:gosec // G115: fd comes from os.File.Fd(); safe on all supported platforms
}

// ShouldColorize reports whether color output should be enabled for f: f
// must be a terminal and the NO_COLOR convention (https://no-color.org/)
// must not be in effect.
func ShouldColorize(f *os.File) bool {
	return !noColorRequested() && IsTerminal(f.Fd())
}

// noColorRequested honors the NO_COLOR environment variable; any value,
// including empty, disables color per the convention.
func noColorRequested() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set
}
