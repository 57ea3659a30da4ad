package validation

import (
	"fmt"
	"strings"
)

// ValidateSampleName checks that a sample name can be used as a file name
// prefix. Sequence files are matched on "<name>_" and the name travels to the
// server as part of the multipart file name, so it must not contain path
// separators or NUL bytes and must not be "." or "..".
func ValidateSampleName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("sample name is empty")
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("sample name %q contains a null byte", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("sample name %q contains a path separator", name)
	case name == "." || name == "..":
		return fmt.Errorf("sample name %q is not a valid file name", name)
	}
	return nil
}
