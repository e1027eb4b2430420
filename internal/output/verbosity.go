package output

import (
	"os"
)

// DefaultFormat picks a format from the environment
func DefaultFormat() Format {
	if f, err := ParseFormat(os.Getenv("CKG_OUTPUT")); err == nil && os.Getenv("CKG_OUTPUT") != "" {
		return f
	}

	// Pre-commit hook context (GIT_AUTHOR_DATE set by git)
	if os.Getenv("GIT_AUTHOR_DATE") != "" {
		return FormatQuiet
	}

	// tooling that consumes the output
	if os.Getenv("CKG_AI_MODE") == "1" {
		return FormatJSON
	}

	return FormatStandard
}
