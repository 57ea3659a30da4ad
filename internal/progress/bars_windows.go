//go:build windows
// +build windows

package progress

import (
	"os"

	"golang.org/x/sys/windows"
)

const enableVirtualTerminalProcessing = 0x0004

// enableANSI turns on virtual terminal processing so mpb's cursor movement
// renders in cmd.exe and PowerShell consoles.
func enableANSI(f *os.File) {
	h := windows.Handle(f.Fd())
	var mode uint32
	if windows.GetConsoleMode(h, &mode) != nil {
		return
	}
	_ = windows.SetConsoleMode(h, mode|enableVirtualTerminalProcessing)
}
