//go:build !windows

package progress

import "os"

// Unix terminals interpret ANSI sequences natively.
func enableVirtualTerminal(f *os.File) {}
