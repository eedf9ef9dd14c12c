package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"

	"github.com/tonimelisma/gdrive-go/internal/gdrive"
	"github.com/tonimelisma/gdrive-go/internal/session"
)

// shellCommand is one verb of the interactive shell. maxArgs < 0 means no
// upper bound.
type shellCommand struct {
	name    string
	usage   string
	summary string
	minArgs int
	maxArgs int
	run     func(ctx context.Context, sh *shell, args []string) error
}

func (sh *shell) registerCommands() {
	cmds := []*shellCommand{
		{name: "ls", usage: "ls [-l]", summary: "list the current folder", maxArgs: 1, run: cmdLs},
		{name: "cd", usage: "cd <folder|..|/>", summary: "enter a folder", minArgs: 1, maxArgs: 1, run: cmdCd},
		{name: "back", usage: "back", summary: "return to the previous folder", run: cmdBack},
		{name: "root", usage: "root", summary: "return to My Drive", run: cmdRoot},
		{name: "pwd", usage: "pwd", summary: "print the current folder path", run: cmdPwd},
		{name: "get", usage: "get <name> [dest]", summary: "download a file in the background", minArgs: 1, maxArgs: 2, run: cmdGet},
		{name: "put", usage: "put <local-file>...", summary: "upload files into the current folder", minArgs: 1, maxArgs: -1, run: cmdPut},
		{name: "rm", usage: "rm [-f] <name>", summary: "permanently delete an item", minArgs: 1, maxArgs: 2, run: cmdRm},
		{name: "rename", usage: "rename <name> <new-name>", summary: "rename an item", minArgs: 2, maxArgs: 2, run: cmdRename},
		{name: "mv", usage: "mv <name> <folder|/>", summary: "move an item into another folder", minArgs: 2, maxArgs: 2, run: cmdMv},
		{name: "mkdir", usage: "mkdir <name>", summary: "create a folder", minArgs: 1, maxArgs: 1, run: cmdMkdir},
		{
			name: "share", usage: "share <name> public|user [email]", summary: "grant read access",
			minArgs: 2, maxArgs: 3, run: cmdShare,
		},
		{name: "info", usage: "info <name>", summary: "show item details", minArgs: 1, maxArgs: 1, run: cmdInfo},
		{name: "find", usage: "find <text>", summary: "search the whole drive by name", minArgs: 1, maxArgs: -1, run: cmdFind},
		{name: "filter", usage: "filter <text>", summary: "list matching names in the current folder", minArgs: 1, maxArgs: -1, run: cmdFilter},
		{name: "quota", usage: "quota", summary: "show storage usage", run: cmdQuota},
		{name: "whoami", usage: "whoami", summary: "show the signed-in account", run: cmdWhoami},
		{name: "refresh", usage: "refresh", summary: "drop cached listings and list again", run: cmdRefresh},
		{name: "jobs", usage: "jobs", summary: "list running transfers", run: cmdJobs},
		{name: "cancel", usage: "cancel <job>", summary: "cancel a download", minArgs: 1, maxArgs: 1, run: cmdCancel},
		{name: "wait", usage: "wait", summary: "wait for running transfers", run: cmdWait},
		{name: "signout", usage: "signout", summary: "forget credentials and quit", run: cmdSignout},
		{name: "help", usage: "help", summary: "show this list", run: cmdHelp},
		{name: "exit", usage: "exit", summary: "wait for transfers and quit", run: cmdExit},
	}

	sh.commands = make(map[string]*shellCommand, len(cmds))
	for _, c := range cmds {
		sh.commands[c.name] = c
	}

	sh.aliases = map[string]string{
		"up":   "back",
		"quit": "exit",
		"dir":  "ls",
	}
}

func cmdLs(ctx context.Context, sh *shell, args []string) error {
	long := false

	for _, a := range args {
		if a != "-l" {
			return fmt.Errorf("usage: %s", sh.commands["ls"].usage)
		}

		long = true
	}

	items, err := sh.sess.List(ctx, "")
	if err != nil {
		return err
	}

	return sh.printItems(items, long)
}

func (sh *shell) printItems(items []gdrive.Item, long bool) error {
	if sh.opts.JSON {
		return writeJSON(sh.out, toItemsJSON(items))
	}

	if len(items) == 0 {
		fmt.Fprintln(sh.out, "(empty)")
		return nil
	}

	if !long {
		for _, item := range items {
			if item.IsFolder {
				folderColor.Fprintln(sh.out, displayName(item))
				continue
			}

			fmt.Fprintln(sh.out, displayName(item))
		}

		return nil
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{displayName(item), sizeColumn(item), formatTime(item.ModifiedAt), item.ID})
	}

	printTable(sh.out, []string{"NAME", "SIZE", "MODIFIED", "ID"}, rows)

	return nil
}

func cmdCd(ctx context.Context, sh *shell, args []string) error {
	switch args[0] {
	case "/":
		sh.sess.GoRoot()
		return nil
	case "..":
		sh.sess.Back()
		return nil
	}

	item, err := sh.resolve(ctx, args[0])
	if err != nil {
		return err
	}

	if !item.IsFolder {
		return fmt.Errorf("%q: %w", item.Name, errNotAFolder)
	}

	sh.sess.Descend(item.ID, item.Name)

	return nil
}

func cmdBack(_ context.Context, sh *shell, _ []string) error {
	sh.sess.Back()
	fmt.Fprintln(sh.out, sh.sess.Path())

	return nil
}

func cmdRoot(_ context.Context, sh *shell, _ []string) error {
	sh.sess.GoRoot()
	return nil
}

func cmdPwd(_ context.Context, sh *shell, _ []string) error {
	fmt.Fprintln(sh.out, sh.sess.Path())
	return nil
}

func cmdGet(ctx context.Context, sh *shell, args []string) error {
	item, err := sh.resolve(ctx, args[0])
	if err != nil {
		return err
	}

	if item.IsFolder {
		return fmt.Errorf("%q: %w", item.Name, errIsAFolder)
	}

	var dest string
	if len(args) > 1 {
		dest = args[1]
	}

	dest, err = sh.downloadPath(item.Name, dest)
	if err != nil {
		return err
	}

	id := sh.jobs.startDownload(item, dest)
	sh.statusf("[%d] downloading %s to %s\n", id, item.Name, dest)

	return nil
}

// downloadPath picks where a download lands: dest as given, inside dest if
// it is a directory, or in the configured download directory.
func (sh *shell) downloadPath(name, dest string) (string, error) {
	if dest == "" {
		dir := sh.opts.DownloadDir
		if dir == "" {
			dir = "."
		}

		return filepath.Join(dir, name), nil
	}

	expanded, err := homedir.Expand(dest)
	if err != nil {
		return "", fmt.Errorf("expanding %s: %w", dest, err)
	}

	if info, err := os.Stat(expanded); err == nil && info.IsDir() {
		return filepath.Join(expanded, name), nil
	}

	return expanded, nil
}

func cmdPut(_ context.Context, sh *shell, args []string) error {
	folder := sh.sess.Current()

	for _, arg := range args {
		path, err := homedir.Expand(arg)
		if err != nil {
			return fmt.Errorf("expanding %s: %w", arg, err)
		}

		id := sh.jobs.startUpload(path, folder.ID)
		sh.statusf("[%d] uploading %s to %s\n", id, filepath.Base(path), folder.Name)
	}

	return nil
}

func cmdRm(ctx context.Context, sh *shell, args []string) error {
	force := false
	if args[0] == "-f" {
		force = true
		args = args[1:]
	}

	if len(args) != 1 {
		return fmt.Errorf("usage: %s", sh.commands["rm"].usage)
	}

	item, err := sh.resolve(ctx, args[0])
	if err != nil {
		return err
	}

	if !force && !sh.confirm(fmt.Sprintf("Permanently delete %q?", displayName(item))) {
		sh.statusf("Not deleted.\n")
		return nil
	}

	if err := sh.sess.Delete(ctx, item.ID); err != nil {
		return err
	}

	sh.statusf("Deleted %s\n", displayName(item))

	return nil
}

func cmdRename(ctx context.Context, sh *shell, args []string) error {
	item, err := sh.resolve(ctx, args[0])
	if err != nil {
		return err
	}

	renamed, err := sh.sess.Rename(ctx, item.ID, args[1])
	if err != nil {
		return err
	}

	sh.statusf("Renamed %s to %s\n", item.Name, renamed.Name)

	return nil
}

func cmdMv(ctx context.Context, sh *shell, args []string) error {
	item, err := sh.resolve(ctx, args[0])
	if err != nil {
		return err
	}

	target, err := sh.resolveFolder(ctx, args[1])
	if err != nil {
		return err
	}

	if _, err := sh.sess.Move(ctx, item.ID, target.ID); err != nil {
		return err
	}

	sh.statusf("Moved %s into %s\n", item.Name, target.Name)

	return nil
}

func cmdMkdir(ctx context.Context, sh *shell, args []string) error {
	item, err := sh.sess.CreateFolder(ctx, "", args[0])
	if err != nil {
		return err
	}

	sh.statusf("Created %s (%s%s)\n", displayName(*item), idPrefix, item.ID)

	return nil
}

func cmdShare(ctx context.Context, sh *shell, args []string) error {
	item, err := sh.resolve(ctx, args[0])
	if err != nil {
		return err
	}

	var email string
	if len(args) > 2 {
		email = args[2]
	}

	permID, err := sh.sess.Share(ctx, item.ID, session.ShareMode(args[1]), email)
	if err != nil {
		return err
	}

	if sh.opts.JSON {
		return writeJSON(sh.out, map[string]string{
			"item_id":       item.ID,
			"permission_id": permID,
			"web_view_link": item.WebViewLink,
		})
	}

	if permID == "" {
		fmt.Fprintf(sh.out, "Shared %s\n", item.Name)
	} else {
		fmt.Fprintf(sh.out, "Shared %s (permission %s)\n", item.Name, permID)
	}

	if item.WebViewLink != "" {
		fmt.Fprintln(sh.out, item.WebViewLink)
	}

	return nil
}

func cmdInfo(ctx context.Context, sh *shell, args []string) error {
	found, err := sh.resolve(ctx, args[0])
	if err != nil {
		return err
	}

	// Metadata is re-fetched so info never shows a cached listing.
	item, err := sh.sess.Item(ctx, found.ID)
	if err != nil {
		return err
	}

	if sh.opts.JSON {
		return writeJSON(sh.out, toItemJSON(*item))
	}

	kind := "file"
	if item.IsFolder {
		kind = "folder"
	}

	rows := [][]string{
		{"Name:", item.Name},
		{"ID:", item.ID},
		{"Type:", kind},
		{"MIME type:", item.MimeType},
		{"Size:", sizeColumn(*item)},
		{"Modified:", formatTime(item.ModifiedAt)},
		{"Shared:", strconv.FormatBool(item.Shared)},
		{"Parent:", item.ParentID},
		{"Link:", item.WebViewLink},
	}

	for _, r := range rows {
		if r[1] == "" {
			continue
		}

		fmt.Fprintf(sh.out, "%-11s %s\n", r[0], r[1])
	}

	return nil
}

func cmdFind(ctx context.Context, sh *shell, args []string) error {
	items, err := sh.sess.Search(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	return sh.printItems(items, true)
}

func cmdFilter(ctx context.Context, sh *shell, args []string) error {
	items, err := sh.sess.List(ctx, "")
	if err != nil {
		return err
	}

	return sh.printItems(session.FilterByName(items, strings.Join(args, " ")), false)
}

func cmdQuota(ctx context.Context, sh *shell, _ []string) error {
	q, err := sh.sess.Quota(ctx)
	if err != nil {
		return err
	}

	if sh.opts.JSON {
		out := map[string]any{
			"used":      q.Used,
			"total":     q.Total,
			"in_drive":  q.InDrive,
			"in_trash":  q.InTrash,
			"unlimited": q.Unlimited(),
		}

		if pct, ok := q.Percent(); ok {
			out["percent"] = pct
		}

		return writeJSON(sh.out, out)
	}

	if pct, ok := q.Percent(); ok {
		fmt.Fprintf(sh.out, "Used:     %s of %s (%.1f%%)\n", formatSize(q.Used), formatSize(q.Total), pct)
	} else {
		fmt.Fprintf(sh.out, "Used:     %s (unlimited)\n", formatSize(q.Used))
	}

	fmt.Fprintf(sh.out, "In Drive: %s\n", formatSize(q.InDrive))
	fmt.Fprintf(sh.out, "In trash: %s\n", formatSize(q.InTrash))

	return nil
}

func cmdWhoami(_ context.Context, sh *shell, _ []string) error {
	user := sh.sess.User()
	state := sh.sess.State()
	expiry := sh.sess.Expiry()

	if sh.opts.JSON {
		out := map[string]any{"state": state.String()}

		if user != nil {
			out["id"] = user.ID
			out["name"] = user.Name
			out["email"] = user.Email
		}

		if !expiry.IsZero() {
			out["token_expiry"] = expiry.UTC().Format(time.RFC3339)
		}

		return writeJSON(sh.out, out)
	}

	if user != nil {
		fmt.Fprintf(sh.out, "%s <%s>\n", user.Name, user.Email)
	} else {
		fmt.Fprintln(sh.out, "(profile unavailable)")
	}

	fmt.Fprintf(sh.out, "Session: %s", state)

	if !expiry.IsZero() {
		fmt.Fprintf(sh.out, ", token expires %s", formatTime(expiry))
	}

	fmt.Fprintln(sh.out)

	return nil
}

func cmdRefresh(ctx context.Context, sh *shell, _ []string) error {
	sh.sess.ClearCache()
	return cmdLs(ctx, sh, nil)
}

func cmdJobs(_ context.Context, sh *shell, _ []string) error {
	jobs := sh.jobs.list()
	if len(jobs) == 0 {
		fmt.Fprintln(sh.out, "No running transfers.")
		return nil
	}

	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		progress := "-"
		if j.Kind == jobDownload {
			progress = formatProgress(j.Progress)
		}

		rows = append(rows, []string{strconv.Itoa(j.ID), string(j.Kind), j.Name, progress, formatTime(j.Started)})
	}

	printTable(sh.out, []string{"JOB", "KIND", "NAME", "PROGRESS", "STARTED"}, rows)

	return nil
}

func cmdCancel(_ context.Context, sh *shell, args []string) error {
	id, err := strconv.Atoi(strings.TrimPrefix(args[0], "%"))
	if err != nil {
		return fmt.Errorf("invalid job number %q", args[0])
	}

	if err := sh.jobs.cancel(id); err != nil {
		return err
	}

	sh.statusf("Canceling job %d\n", id)

	return nil
}

func cmdWait(_ context.Context, sh *shell, _ []string) error {
	if n := sh.jobs.active(); n > 0 {
		sh.statusf("Waiting for %d transfer(s)...\n", n)
	}

	sh.jobs.wait()

	return nil
}

func cmdSignout(_ context.Context, sh *shell, _ []string) error {
	sh.jobs.cancelAll()
	sh.jobs.wait()
	sh.sess.SignOut()
	sh.statusf("Signed out.\n")

	return errExit
}

func cmdHelp(_ context.Context, sh *shell, _ []string) error {
	rows := make([][]string, 0, len(sh.commands))
	for _, name := range sh.commandNames() {
		c := sh.commands[name]
		rows = append(rows, []string{c.usage, c.summary})
	}

	printTable(sh.out, []string{"COMMAND", "DESCRIPTION"}, rows)
	fmt.Fprintf(sh.out, "\nNames refer to the current folder; use %s<ID> for any item.\n", idPrefix)
	fmt.Fprintln(sh.out, "Aliases: up = back, quit = exit, dir = ls.")

	return nil
}

func cmdExit(_ context.Context, _ *shell, _ []string) error {
	return errExit
}
