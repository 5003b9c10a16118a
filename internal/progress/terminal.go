package progress

import (
	"os"

	"golang.org/x/term"
)

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// EnableANSI turns on escape-sequence processing for f where the console
// needs it. It is a no-op outside Windows.
func EnableANSI(f *os.File) {
	enableVirtualTerminal(f)
}
