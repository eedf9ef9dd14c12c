package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/tonimelisma/gdrive-go/internal/gdrive"
)

var (
	folderColor = color.New(color.FgBlue, color.Bold)
	errorColor  = color.New(color.FgRed)
	promptColor = color.New(color.FgCyan)
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// formatSize returns a human-readable size string (e.g. "1.2 MiB").
func formatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}

	return humanize.IBytes(uint64(bytes))
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	t = t.Local()

	if t.Year() == time.Now().Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// displayName marks folders with a trailing slash.
func displayName(item gdrive.Item) string {
	if item.IsFolder {
		return item.Name + "/"
	}

	return item.Name
}

// sizeColumn shows "-" for folders, which have no size of their own.
func sizeColumn(item gdrive.Item) string {
	if item.IsFolder {
		return "-"
	}

	return formatSize(item.Size)
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row. The last column is not padded.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		if i == len(cells)-1 {
			parts[i] = cell
			continue
		}

		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.Join(parts, "  "))
}

// itemJSON is the machine-readable form of an item.
type itemJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Folder      bool   `json:"folder"`
	Size        int64  `json:"size"`
	MimeType    string `json:"mime_type"`
	Modified    string `json:"modified,omitempty"`
	Shared      bool   `json:"shared"`
	ParentID    string `json:"parent_id,omitempty"`
	WebViewLink string `json:"web_view_link,omitempty"`
}

func toItemJSON(item gdrive.Item) itemJSON {
	out := itemJSON{
		ID:          item.ID,
		Name:        item.Name,
		Folder:      item.IsFolder,
		Size:        item.Size,
		MimeType:    item.MimeType,
		Shared:      item.Shared,
		ParentID:    item.ParentID,
		WebViewLink: item.WebViewLink,
	}

	if !item.ModifiedAt.IsZero() {
		out.Modified = item.ModifiedAt.UTC().Format(time.RFC3339)
	}

	return out
}

func toItemsJSON(items []gdrive.Item) []itemJSON {
	out := make([]itemJSON, 0, len(items))
	for _, item := range items {
		out = append(out, toItemJSON(item))
	}

	return out
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// syncWriter serializes writes from the shell and the transfer renderer so
// lines never interleave mid-write.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.w.Write(p)
}
