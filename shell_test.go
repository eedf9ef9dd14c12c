package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/gdrive-go/internal/gdrive"
	"github.com/tonimelisma/gdrive-go/internal/session"
)

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{"empty", "", nil},
		{"blank", "   \t ", nil},
		{"plain", "get report.pdf", []string{"get", "report.pdf"}},
		{"extra spaces", "  mv   a  b ", []string{"mv", "a", "b"}},
		{"double quotes", `get "Annual Report.pdf"`, []string{"get", "Annual Report.pdf"}},
		{"single quotes", `cd 'My Folder'`, []string{"cd", "My Folder"}},
		{"escaped space", `cd My\ Folder`, []string{"cd", "My Folder"}},
		{"escape in double quotes", `rename a "say \"hi\""`, []string{"rename", "a", `say "hi"`}},
		{"backslash literal in single quotes", `cd 'a\b'`, []string{"cd", `a\b`}},
		{"empty quoted word", `rename a ""`, []string{"rename", "a", ""}},
		{"adjacent quoting", `get ab"c d"e`, []string{"get", "abc de"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := splitArgs(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitArgs_Unbalanced(t *testing.T) {
	for _, line := range []string{`get "open`, `cd 'open`, `cd trailing\`} {
		_, err := splitArgs(line)
		assert.ErrorIs(t, err, errUnbalanced, line)
	}
}

func TestMatchName(t *testing.T) {
	items := []gdrive.Item{
		{ID: "1", Name: "Report.pdf"},
		{ID: "2", Name: "report.pdf"},
		{ID: "3", Name: "R\u00e9sum\u00e9.docx"},
		{ID: "4", Name: "STRASSE.txt"},
	}

	t.Run("exact match wins over folded", func(t *testing.T) {
		got := matchName(items, "report.pdf")
		require.Len(t, got, 1)
		assert.Equal(t, "2", got[0].ID)
	})

	t.Run("folded matches when no exact", func(t *testing.T) {
		got := matchName(items, "REPORT.PDF")
		assert.Len(t, got, 2)
	})

	t.Run("decomposed accents match precomposed", func(t *testing.T) {
		got := matchName(items, "re\u0301sume\u0301.docx")
		require.Len(t, got, 1)
		assert.Equal(t, "3", got[0].ID)
	})

	t.Run("full case folding", func(t *testing.T) {
		got := matchName(items, "stra\u00dfe.txt")
		require.Len(t, got, 1)
		assert.Equal(t, "4", got[0].ID)
	})

	t.Run("no match", func(t *testing.T) {
		assert.Empty(t, matchName(items, "missing"))
	})
}

func TestShell_LsShort(t *testing.T) {
	out, errOut := runScript(t, newFakeSession(), shellOptions{}, "ls\n")

	assert.Equal(t, "Docs/\nPhotos/\nreport.pdf\nnotes.txt\n", out)
	assert.Empty(t, errOut)
}

func TestShell_LsLong(t *testing.T) {
	out, _ := runScript(t, newFakeSession(), shellOptions{}, "ls -l\n")

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "report.pdf")
	assert.Contains(t, out, "2.0 KiB")
	assert.Contains(t, out, "r-1")
}

func TestShell_LsBadFlag(t *testing.T) {
	_, errOut := runScript(t, newFakeSession(), shellOptions{}, "ls -a\n")

	assert.Contains(t, errOut, "usage: ls [-l]")
}

func TestShell_LsJSON(t *testing.T) {
	out, _ := runScript(t, newFakeSession(), shellOptions{JSON: true}, "ls\n")

	var items []itemJSON
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 4)
	assert.Equal(t, "f-docs", items[0].ID)
	assert.True(t, items[0].Folder)
	assert.Equal(t, "2024-03-05T09:30:00Z", items[2].Modified)
}

func TestShell_EmptyFolder(t *testing.T) {
	out, _ := runScript(t, newFakeSession(), shellOptions{}, "cd Photos\nls\n")

	assert.Equal(t, "(empty)\n", out)
}

func TestShell_Navigation(t *testing.T) {
	out, errOut := runScript(t, newFakeSession(), shellOptions{},
		"cd Docs\npwd\nls\nback\npwd\n")

	assert.Equal(t, "/Docs\nR\u00e9sum\u00e9.docx\n/\n/\n", out)
	assert.Empty(t, errOut)
}

func TestShell_NavigationShortcuts(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"cd slash", "cd Docs\ncd /\npwd\n", "/\n"},
		{"cd dotdot", "cd Docs\ncd ..\npwd\n", "/\n"},
		{"root", "cd Docs\nroot\npwd\n", "/\n"},
		{"up alias", "cd Docs\nup\n", "/\n"},
		{"back at root stays", "back\n", "/\n"},
		{"cd by id", "cd id:f-photos\npwd\n", "/Photos\n"},
		{"cd case-insensitive", "cd docs\npwd\n", "/Docs\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut := runScript(t, newFakeSession(), shellOptions{}, tt.script)
			assert.Equal(t, tt.want, out)
			assert.Empty(t, errOut)
		})
	}
}

func TestShell_CdIntoFile(t *testing.T) {
	sess := newFakeSession()

	_, errOut := runScript(t, sess, shellOptions{}, "cd report.pdf\n")

	assert.Contains(t, errOut, `"report.pdf": not a folder`)
	assert.Equal(t, "/", sess.Path())
}

func TestShell_Errors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"unknown command", "frob\n", `unknown command "frob" (try "help")`},
		{"too few args", "rename notes.txt\n", "usage: rename <name> <new-name>"},
		{"too many args", "cd a b\n", "usage: cd <folder|..|/>"},
		{"not found", "get missing.txt\n", `"missing.txt": no such item in this folder`},
		{"unbalanced quote", "get \"open\n", "unterminated quote"},
		{"get folder", "get Docs\n", `"Docs": is a folder`},
		{"bad job number", "cancel x\n", `invalid job number "x"`},
		{"no such job", "cancel 7\n", "no such job: 7"},
		{"rm flag without name", "rm -f\n", "usage: rm [-f] <name>"},
		{"mv into file", "mv notes.txt report.pdf\n", `"report.pdf": not a folder`},
		{"bad share mode", "share report.pdf friends\n", `unknown share mode "friends"`},
		{"unknown id", "info id:nope\n", "gdrive: HTTP 404"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errOut := runScript(t, newFakeSession(), shellOptions{}, tt.script)
			assert.Contains(t, errOut, "error: ")
			assert.Contains(t, errOut, tt.want)
		})
	}
}

func TestShell_ErrorDoesNotStopLoop(t *testing.T) {
	out, errOut := runScript(t, newFakeSession(), shellOptions{}, "frob\npwd\n")

	assert.Contains(t, errOut, "unknown command")
	assert.Equal(t, "/\n", out)
}

func TestShell_AmbiguousName(t *testing.T) {
	sess := newFakeSession()
	sess.children[gdrive.RootID] = append(sess.children[gdrive.RootID],
		gdrive.Item{ID: "n-2", Name: "notes.txt", ParentID: gdrive.RootID})

	_, errOut := runScript(t, sess, shellOptions{}, "rm notes.txt\n")

	assert.Contains(t, errOut, "name is ambiguous")
	assert.Contains(t, errOut, "id:n-1 id:n-2")
	assert.Empty(t, sess.deleted)

	_, errOut = runScript(t, sess, shellOptions{}, "rm id:n-2\n")
	assert.Contains(t, errOut, "Deleted notes.txt")
	assert.Equal(t, []string{"n-2"}, sess.deleted)
}

func TestShell_ListError(t *testing.T) {
	sess := newFakeSession()
	sess.listErr = gdrive.ErrNotAuthenticated

	_, errOut := runScript(t, sess, shellOptions{}, "ls\n")

	assert.Contains(t, errOut, "not authenticated")
}

func TestShell_Get(t *testing.T) {
	dir := t.TempDir()
	sess := newFakeSession()

	var gotID, gotPath string

	sess.download = func(_ context.Context, fileID, savePath string, onProgress func(session.Progress)) (int64, error) {
		gotID, gotPath = fileID, savePath
		onProgress(session.Progress{Downloaded: 1024, Total: 2048})
		onProgress(session.Progress{Downloaded: 2048, Total: 2048})

		return 2048, nil
	}

	out, errOut := runScript(t, sess, shellOptions{DownloadDir: dir}, "get report.pdf\n")

	want := filepath.Join(dir, "report.pdf")
	assert.Equal(t, "r-1", gotID)
	assert.Equal(t, want, gotPath)
	assert.Contains(t, errOut, "[1] downloading report.pdf to "+want)
	assert.Contains(t, out, "[1] get report.pdf: 50% (1.0 KiB / 2.0 KiB)")
	assert.Contains(t, out, "[1] get report.pdf: saved to "+want+" (2.0 KiB)")
}

func TestShell_GetIntoDirectory(t *testing.T) {
	dir := t.TempDir()
	sess := newFakeSession()

	var gotPath string

	sess.download = func(_ context.Context, _, savePath string, _ func(session.Progress)) (int64, error) {
		gotPath = savePath
		return 0, nil
	}

	runScript(t, sess, shellOptions{}, "get notes.txt "+dir+"\n")

	assert.Equal(t, filepath.Join(dir, "notes.txt"), gotPath)
}

func TestShell_GetExplicitFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "renamed.txt")
	sess := newFakeSession()

	var gotPath string

	sess.download = func(_ context.Context, _, savePath string, _ func(session.Progress)) (int64, error) {
		gotPath = savePath
		return 0, nil
	}

	runScript(t, sess, shellOptions{}, "get notes.txt "+dest+"\n")

	assert.Equal(t, dest, gotPath)
}

func TestShell_GetFailure(t *testing.T) {
	sess := newFakeSession()
	sess.download = func(context.Context, string, string, func(session.Progress)) (int64, error) {
		return 0, &gdrive.APIError{StatusCode: 403, Body: "forbidden", Err: gdrive.ErrForbidden}
	}

	out, _ := runScript(t, sess, shellOptions{DownloadDir: t.TempDir()}, "get report.pdf\n")

	assert.Contains(t, out, "[1] get report.pdf: failed: gdrive: HTTP 403: forbidden")
}

func TestShell_Put(t *testing.T) {
	sess := newFakeSession()

	out, errOut := runScript(t, sess, shellOptions{}, "cd Docs\nput /tmp/a.txt /tmp/b.txt\n")

	assert.ElementsMatch(t, []string{"/tmp/a.txt->f-docs", "/tmp/b.txt->f-docs"}, sess.uploadedTo)
	assert.Contains(t, errOut, "[1] uploading a.txt to Docs")
	assert.Contains(t, errOut, "[2] uploading b.txt to Docs")
	assert.Contains(t, out, "[1] put a.txt: uploaded (5 B, id up-1)")
	assert.Contains(t, out, "[2] put b.txt: uploaded")
}

func TestShell_PutFailure(t *testing.T) {
	sess := newFakeSession()
	sess.upload = func(context.Context, string, string) (*gdrive.Item, error) {
		return nil, &gdrive.ValidationError{Reason: "file not found: /tmp/missing"}
	}

	out, _ := runScript(t, sess, shellOptions{}, "put /tmp/missing\n")

	assert.Contains(t, out, "[1] put missing: failed: gdrive: file not found: /tmp/missing")
}

func TestShell_Rm(t *testing.T) {
	t.Run("non-interactive deletes without asking", func(t *testing.T) {
		sess := newFakeSession()

		out, errOut := runScript(t, sess, shellOptions{}, "rm notes.txt\nls\n")

		assert.Equal(t, []string{"n-1"}, sess.deleted)
		assert.Contains(t, errOut, "Deleted notes.txt")
		assert.NotContains(t, out, "notes.txt")
	})

	t.Run("interactive declined", func(t *testing.T) {
		sess := newFakeSession()

		out, errOut := runScript(t, sess, shellOptions{Interactive: true}, "rm notes.txt\nn\n")

		assert.Contains(t, out, `Permanently delete "notes.txt"? [y/N]`)
		assert.Contains(t, errOut, "Not deleted.")
		assert.Empty(t, sess.deleted)
	})

	t.Run("interactive accepted", func(t *testing.T) {
		sess := newFakeSession()

		runScript(t, sess, shellOptions{Interactive: true}, "rm Docs\nyes\n")

		assert.Equal(t, []string{"f-docs"}, sess.deleted)
	})

	t.Run("force skips the question", func(t *testing.T) {
		sess := newFakeSession()

		out, _ := runScript(t, sess, shellOptions{Interactive: true}, "rm -f notes.txt\n")

		assert.NotContains(t, out, "[y/N]")
		assert.Equal(t, []string{"n-1"}, sess.deleted)
	})
}

func TestShell_InteractivePrompt(t *testing.T) {
	out, _ := runScript(t, newFakeSession(), shellOptions{Interactive: true}, "cd Docs\n")

	assert.Contains(t, out, "gdrive:/> ")
	assert.Contains(t, out, "gdrive:/Docs> ")
}

func TestShell_Rename(t *testing.T) {
	sess := newFakeSession()

	out, errOut := runScript(t, sess, shellOptions{}, "rename notes.txt \"to do.txt\"\nls\n")

	assert.Contains(t, errOut, "Renamed notes.txt to to do.txt")
	assert.Contains(t, out, "to do.txt\n")
}

func TestShell_Mv(t *testing.T) {
	sess := newFakeSession()

	_, errOut := runScript(t, sess, shellOptions{}, "mv notes.txt Docs\nmv report.pdf /\n")

	assert.Equal(t, []string{"n-1->f-docs", "r-1->root"}, sess.moves)
	assert.Contains(t, errOut, "Moved notes.txt into Docs")
	assert.Contains(t, errOut, "Moved report.pdf into My Drive")
}

func TestShell_Mkdir(t *testing.T) {
	sess := newFakeSession()

	out, errOut := runScript(t, sess, shellOptions{}, "mkdir Projects\nls\n")

	assert.Equal(t, []string{"Projects"}, sess.created)
	assert.Contains(t, errOut, "Created Projects/ (id:new-Projects)")
	assert.Contains(t, out, "Projects/\n")
}

func TestShell_Share(t *testing.T) {
	sess := newFakeSession()

	out, _ := runScript(t, sess, shellOptions{},
		"share report.pdf public\nshare report.pdf user bob@example.com\n")

	assert.Equal(t, []string{"r-1:public:", "r-1:user:bob@example.com"}, sess.shares)
	assert.Contains(t, out, "Shared report.pdf (permission perm-1)")
	assert.Contains(t, out, "https://drive.example/r-1")
}

func TestShell_Info(t *testing.T) {
	out, _ := runScript(t, newFakeSession(), shellOptions{}, "info report.pdf\n")

	assert.Contains(t, out, "Name:       report.pdf")
	assert.Contains(t, out, "ID:         r-1")
	assert.Contains(t, out, "Type:       file")
	assert.Contains(t, out, "MIME type:  application/pdf")
	assert.Contains(t, out, "Size:       2.0 KiB")
	assert.Contains(t, out, "Link:       https://drive.example/r-1")
}

func TestShell_InfoJSON(t *testing.T) {
	out, _ := runScript(t, newFakeSession(), shellOptions{JSON: true}, "info Docs\n")

	var item itemJSON
	require.NoError(t, json.Unmarshal([]byte(out), &item))
	assert.Equal(t, "f-docs", item.ID)
	assert.True(t, item.Folder)
}

func TestShell_FindAndFilter(t *testing.T) {
	out, _ := runScript(t, newFakeSession(), shellOptions{}, "find sum\n")

	assert.Contains(t, out, "R\u00e9sum\u00e9.docx")
	assert.Contains(t, out, "d-1")

	out, _ = runScript(t, newFakeSession(), shellOptions{}, "filter NOTES\n")
	assert.Equal(t, "notes.txt\n", out)

	out, _ = runScript(t, newFakeSession(), shellOptions{}, "filter zzz\n")
	assert.Equal(t, "(empty)\n", out)
}

func TestShell_Quota(t *testing.T) {
	out, _ := runScript(t, newFakeSession(), shellOptions{}, "quota\n")

	assert.Contains(t, out, "Used:     1.0 GiB of 4.0 GiB (25.0%)")
	assert.Contains(t, out, "In Drive: 512 MiB")
	assert.Contains(t, out, "In trash: 1.0 MiB")
}

func TestShell_QuotaUnlimited(t *testing.T) {
	sess := newFakeSession()
	sess.quota = gdrive.Quota{Used: 10}

	out, _ := runScript(t, sess, shellOptions{}, "quota\n")

	assert.Contains(t, out, "Used:     10 B (unlimited)")
}

func TestShell_QuotaJSON(t *testing.T) {
	out, _ := runScript(t, newFakeSession(), shellOptions{JSON: true}, "quota\n")

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.InDelta(t, 25.0, got["percent"], 0.001)
	assert.Equal(t, false, got["unlimited"])
}

func TestShell_Whoami(t *testing.T) {
	out, _ := runScript(t, newFakeSession(), shellOptions{}, "whoami\n")

	assert.Contains(t, out, "Ada Lovelace <ada@example.com>")
	assert.Contains(t, out, "Session: authenticated")
}

func TestShell_WhoamiJSON(t *testing.T) {
	out, _ := runScript(t, newFakeSession(), shellOptions{JSON: true}, "whoami\n")

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "ada@example.com", got["email"])
	assert.Equal(t, "authenticated", got["state"])
	assert.NotContains(t, got, "token_expiry")
}

func TestShell_Refresh(t *testing.T) {
	sess := newFakeSession()

	out, _ := runScript(t, sess, shellOptions{}, "refresh\n")

	assert.Equal(t, 1, sess.cleared)
	assert.Contains(t, out, "report.pdf")
}

func TestShell_ExitStopsReading(t *testing.T) {
	for _, verb := range []string{"exit", "quit"} {
		out, _ := runScript(t, newFakeSession(), shellOptions{}, verb+"\npwd\n")
		assert.Empty(t, out, verb)
	}
}

func TestShell_Signout(t *testing.T) {
	sess := newFakeSession()

	out, errOut := runScript(t, sess, shellOptions{}, "signout\npwd\n")

	assert.True(t, sess.signedOut)
	assert.Contains(t, errOut, "Signed out.")
	assert.Empty(t, out)
}

func TestShell_SignoutWaitsForUploads(t *testing.T) {
	sess := newFakeSession()

	var signedOutDuringUpload bool

	sess.upload = func(context.Context, string, string) (*gdrive.Item, error) {
		time.Sleep(50 * time.Millisecond)

		sess.mu.Lock()
		signedOutDuringUpload = sess.signedOut
		sess.mu.Unlock()

		return &gdrive.Item{ID: "u-1", Size: 5}, nil
	}

	out, errOut := runScript(t, sess, shellOptions{}, "put /tmp/a.txt\nsignout\n")

	assert.False(t, signedOutDuringUpload, "credentials cleared while an upload was running")
	assert.True(t, sess.signedOut)
	assert.Contains(t, out, "put a.txt: uploaded")
	assert.Contains(t, errOut, "Signed out.")
}

func TestShell_LastLineWithoutNewline(t *testing.T) {
	out, _ := runScript(t, newFakeSession(), shellOptions{}, "cd Docs\npwd")

	assert.Equal(t, "/Docs\n", out)
}

func TestShell_Help(t *testing.T) {
	out, _ := runScript(t, newFakeSession(), shellOptions{}, "help\n")

	assert.Contains(t, out, "COMMAND")
	assert.Contains(t, out, "share <name> public|user [email]")
	assert.Contains(t, out, "id:<ID>")
}

func TestShell_JobsEmpty(t *testing.T) {
	out, _ := runScript(t, newFakeSession(), shellOptions{}, "jobs\nwait\n")

	assert.Equal(t, "No running transfers.\n", out)
}

func TestShell_QuietSuppressesStatus(t *testing.T) {
	sess := newFakeSession()

	out, errOut := runScript(t, sess, shellOptions{Quiet: true, DownloadDir: t.TempDir()}, "get notes.txt\n")

	assert.Empty(t, errOut)
	assert.NotContains(t, out, "100%")
	assert.Contains(t, out, "saved to")
}

func TestShell_InterruptCancelsForegroundCommand(t *testing.T) {
	sess := newFakeSession()
	sh := newShell(context.Background(), sess, nil, &discard{}, &discard{}, shellOptions{}, discardLogger())

	started := make(chan struct{})

	sh.commands["block"] = &shellCommand{
		name: "block", usage: "block",
		run: func(ctx context.Context, _ *shell, _ []string) error {
			close(started)
			<-ctx.Done()

			return ctx.Err()
		},
	}

	errCh := make(chan error, 1)

	go func() { errCh <- sh.execLine(context.Background(), "block") }()

	<-started
	sh.interrupt()

	assert.ErrorIs(t, <-errCh, context.Canceled)
}

// discard is an io.Writer that drops everything.
type discard struct{}

func (discard) Write(p []byte) (int, error) {
	return len(p), nil
}
