//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/gdrive-go/testutil"
)

const authCode = "e2e-auth-code"

var binaryPath string

func TestMain(m *testing.M) {
	tmpDir, err := os.MkdirTemp("", "gdrive-go-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath, err = testutil.BuildBinary(testutil.FindModuleRoot(".."), tmpDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	code := m.Run()

	os.RemoveAll(tmpDir)
	os.Exit(code)
}

// testEnv is one fake Drive plus the config and secrets files that point
// the binary at it.
type testEnv struct {
	drive       *testutil.FakeDrive
	workDir     string
	configPath  string
	secretsPath string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	drive := testutil.NewFakeDrive(authCode)
	t.Cleanup(drive.Close)

	dir := t.TempDir()
	env := &testEnv{
		drive:       drive,
		workDir:     t.TempDir(),
		configPath:  filepath.Join(dir, "config.toml"),
		secretsPath: filepath.Join(dir, "client_secret.json"),
	}

	cfg := fmt.Sprintf(`[logging]
log_level = "error"

[network]
api_base_url = %q
upload_base_url = %q
user_info_url = %q

[listing]
page_size = 2
`, drive.APIBase(), drive.UploadBase(), drive.UserInfoURL())

	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o600))
	require.NoError(t, os.WriteFile(env.secretsPath, drive.SecretsJSON(), 0o600))

	return env
}

// runShell feeds script to the shell on stdin and returns stdout, stderr,
// and the process error.
func (e *testEnv) runShell(t *testing.T, script string, args ...string) (string, string, error) {
	t.Helper()

	fullArgs := append([]string{
		"--config", e.configPath,
		"--secrets", e.secretsPath,
		"--code", authCode,
	}, args...)

	cmd := exec.Command(binaryPath, fullArgs...)
	cmd.Dir = e.workDir
	cmd.Stdin = strings.NewReader(script)
	cmd.Env = append(os.Environ(), "GDRIVE_GO_LOG_LEVEL=")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}

func (e *testEnv) mustRunShell(t *testing.T, script string, args ...string) (string, string) {
	t.Helper()

	stdout, stderr, err := e.runShell(t, script, args...)
	require.NoError(t, err, "stdout: %s\nstderr: %s", stdout, stderr)

	return stdout, stderr
}

func TestE2E_SignInAndBrowse(t *testing.T) {
	env := newTestEnv(t)
	docs := env.drive.AddFolder("root", "Docs")
	env.drive.AddFile(docs, "a.txt", []byte("alpha"))
	env.drive.AddFile(docs, "b.txt", []byte("bravo"))
	env.drive.AddFile(docs, "c.txt", []byte("charlie"))

	stdout, stderr := env.mustRunShell(t, "whoami\nls\ncd Docs\npwd\nls -l\nback\npwd\n")

	assert.Contains(t, stderr, "Signed in as E2E Tester <e2e@example.com>")
	assert.Contains(t, stdout, "E2E Tester <e2e@example.com>")
	assert.Contains(t, stdout, "Docs/")
	assert.Contains(t, stdout, "/Docs\n")

	// Three children with a page size of two forces pagination.
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		assert.Contains(t, stdout, name)
	}

	assert.Contains(t, stdout, "NAME")
	assert.True(t, strings.HasSuffix(stdout, "/\n"), stdout)
}

func TestE2E_UploadDownloadRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	content := []byte("Hello from gdrive-go E2E test!\n")

	require.NoError(t, os.WriteFile(filepath.Join(env.workDir, "hello.txt"), content, 0o600))

	downloadDir := t.TempDir()
	script := fmt.Sprintf("put hello.txt\nwait\nget hello.txt %q\nwait\n", downloadDir)

	stdout, _ := env.mustRunShell(t, script)

	assert.Contains(t, stdout, "put hello.txt: uploaded")
	assert.Contains(t, stdout, "get hello.txt: saved to")

	uploaded, ok := env.drive.Find("hello.txt")
	require.True(t, ok)
	assert.Equal(t, content, uploaded.Content)
	assert.Equal(t, "root", uploaded.Parent)

	downloaded, err := os.ReadFile(filepath.Join(downloadDir, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, downloaded)
}

func TestE2E_Mutations(t *testing.T) {
	env := newTestEnv(t)
	env.drive.AddFile("root", "draft.txt", []byte("draft"))

	script := "mkdir Archive\nrename draft.txt final.txt\nmv final.txt Archive\ncd Archive\nls\nshare final.txt public\nrm final.txt\nls\n"

	stdout, stderr := env.mustRunShell(t, script)

	assert.Contains(t, stderr, "Created Archive/")
	assert.Contains(t, stderr, "Renamed draft.txt to final.txt")
	assert.Contains(t, stderr, "Moved final.txt into Archive")
	assert.Contains(t, stdout, "final.txt\n")
	assert.Contains(t, stdout, "Shared final.txt")
	assert.Contains(t, stderr, "Deleted final.txt")
	assert.True(t, strings.HasSuffix(stdout, "(empty)\n"), stdout)

	_, ok := env.drive.Find("final.txt")
	assert.False(t, ok)
}

func TestE2E_ShareNoContent(t *testing.T) {
	env := newTestEnv(t)
	env.drive.ShareNoContent = true
	env.drive.AddFile("root", "notes.txt", []byte("notes"))

	stdout, stderr := env.mustRunShell(t, "share notes.txt public\n")

	assert.Contains(t, stdout, "Shared notes.txt\n")
	assert.NotContains(t, stderr, "error")

	shared, ok := env.drive.Find("notes.txt")
	require.True(t, ok)
	assert.True(t, shared.Shared)
}

func TestE2E_FindAndQuota(t *testing.T) {
	env := newTestEnv(t)
	docs := env.drive.AddFolder("root", "Docs")
	env.drive.AddFile(docs, "Quarterly Report.pdf", bytes.Repeat([]byte("x"), 2048))

	stdout, _ := env.mustRunShell(t, "find report\nquota\n")

	assert.Contains(t, stdout, "Quarterly Report.pdf")
	assert.Contains(t, stdout, "Used:     2.0 KiB of 15 GiB")
}

func TestE2E_JSONListing(t *testing.T) {
	env := newTestEnv(t)
	env.drive.AddFolder("root", "Docs")
	env.drive.AddFile("root", "notes.txt", []byte("notes"))

	stdout, _ := env.mustRunShell(t, "ls\n", "--json")

	var items []map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &items), stdout)
	require.Len(t, items, 2)

	assert.Equal(t, "Docs", items[0]["name"])
	assert.Equal(t, true, items[0]["folder"])
	assert.Equal(t, "notes.txt", items[1]["name"])
	assert.InDelta(t, 5, items[1]["size"], 0)
}

func TestE2E_ErrorsDoNotEndShell(t *testing.T) {
	env := newTestEnv(t)

	stdout, stderr := env.mustRunShell(t, "cd Nowhere\nfrobnicate\npwd\n")

	assert.Contains(t, stderr, "no such item in this folder")
	assert.Contains(t, stderr, `unknown command "frobnicate"`)
	assert.Equal(t, "/\n", stdout)
}

func TestE2E_RejectedCode(t *testing.T) {
	env := newTestEnv(t)

	_, stderr, err := env.runShell(t, "ls\n", "--code", "wrong-code")

	require.Error(t, err)
	assert.Contains(t, stderr, "Error: signing in")
}
