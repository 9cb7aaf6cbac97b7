package plan

import (
	"fmt"
	"path"
	"strings"
	"unicode"
)

// ValidateFilename enforces the filename hygiene rule from the plan model:
// no ".." path segments, no absolute paths, no NUL or other control
// characters. It is deliberately checked at three points in this repo —
// here (plan validation), in package graph (plan→graph build), and again in
// graph's create_file task immediately before the write — because a refactor to any
// one layer must not silently drop the guarantee for the others.
func ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("filename must not be empty")
	}
	if path.IsAbs(name) || strings.HasPrefix(name, "/") {
		return fmt.Errorf("filename must not be an absolute path: %q", name)
	}
	for _, r := range name {
		if r == 0 || unicode.IsControl(r) {
			return fmt.Errorf("filename contains a control character: %q", name)
		}
	}
	for _, segment := range strings.Split(filepathSplit(name), "/") {
		if segment == ".." {
			return fmt.Errorf("filename must not contain a %q path segment: %q", "..", name)
		}
	}
	return nil
}

// filepathSplit normalizes backslashes so the ".." check also catches
// Windows-style separators in an otherwise relative path.
func filepathSplit(name string) string {
	return strings.ReplaceAll(name, "\\", "/")
}
