package session

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/gdrive-go/internal/gdrive"
)

// FilterByName returns the items whose name contains needle, compared after
// NFC normalization and Unicode case folding. An empty needle matches all.
func FilterByName(items []gdrive.Item, needle string) []gdrive.Item {
	fold := cases.Fold()
	want := fold.String(norm.NFC.String(strings.TrimSpace(needle)))

	out := make([]gdrive.Item, 0, len(items))

	for _, it := range items {
		if strings.Contains(fold.String(norm.NFC.String(it.Name)), want) {
			out = append(out, it)
		}
	}

	return out
}
