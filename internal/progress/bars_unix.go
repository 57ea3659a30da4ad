//go:build !windows
// +build !windows

package progress

import "os"

// enableANSI does nothing: Unix terminals interpret escape sequences natively.
func enableANSI(*os.File) {}
