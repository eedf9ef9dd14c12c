package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as an annotated TOML-like
// summary to w. It powers the "config show" command.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration\n")
	ew.printf("# config file:  %s\n", r.ConfigPath)
	ew.printf("# secrets file: %s\n\n", r.SecretsPath)

	ew.printf("[logging]\n")
	ew.printf("  log_level = %q\n\n", r.Logging.LogLevel)

	ew.printf("[network]\n")
	ew.printf("  timeout         = %q\n", r.Network.Timeout)
	ew.printf("  api_base_url    = %q\n", r.Network.APIBaseURL)
	ew.printf("  upload_base_url = %q\n", r.Network.UploadBaseURL)
	ew.printf("  user_info_url   = %q\n\n", r.Network.UserInfoURL)

	ew.printf("[cache]\n")
	ew.printf("  ttl = %q\n\n", r.Cache.TTL)

	ew.printf("[listing]\n")
	ew.printf("  page_size = %d\n\n", r.Listing.PageSize)

	ew.printf("[transfers]\n")
	ew.printf("  download_dir = %q\n", r.Transfers.DownloadDir)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
