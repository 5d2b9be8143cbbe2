package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/peek/pkg/capture"
	"github.com/getmockd/peek/pkg/inspector"
)

// tailFlags holds the tail command's flag values.
type tailFlags struct {
	url      string
	basePath string
	token    string
	json     bool
}

func newTailCmd() *cobra.Command {
	f := &tailFlags{}
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream captured requests from a running inspector",
		Example: `  # Follow the local demo server
  peek tail

  # Follow another server, printing raw JSON records
  peek tail --url http://staging:8080 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err := runTail(ctx, f, cmd.OutOrStdout())
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&f.url, "url", "http://localhost:8080", "Base URL of the server")
	cmd.Flags().StringVar(&f.basePath, "base-path", capture.DefaultBasePath, "Inspector route prefix")
	cmd.Flags().StringVar(&f.token, "token", "", "Inspector token")
	cmd.Flags().BoolVar(&f.json, "json", false, "Print records as JSON")
	return cmd
}

// eventsURL builds the event stream URL.
func eventsURL(base, basePath string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid url %q: scheme and host are required", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Trim(basePath, "/") + "/events"
	return u.String(), nil
}

func runTail(ctx context.Context, f *tailFlags, out io.Writer) error {
	target, err := eventsURL(f.url, f.basePath)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if f.token != "" {
		req.Header.Set(inspector.TokenHeader, f.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("cannot connect to %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return followStream(resp.Body, out, f.json)
}

// followStream prints one line per record data frame in r.
func followStream(r io.Reader, out io.Writer, raw bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 8<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if raw {
			fmt.Fprintln(out, data)
			continue
		}
		var rec capture.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			continue
		}
		fmt.Fprintln(out, formatRecord(&rec))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading stream: %w", err)
	}
	return nil
}

// formatRecord renders a record as a single line.
func formatRecord(rec *capture.Record) string {
	ts := time.UnixMilli(rec.Timestamp).Format("15:04:05.000")
	status := "---"
	if rec.Response != nil {
		status = fmt.Sprintf("%d", rec.Response.StatusCode)
	}
	line := fmt.Sprintf("%s  %-6s %s  %-40s %5dms", ts, rec.Method, status, rec.URL, rec.DurationMs)
	if rec.Route != "" {
		line += "  " + rec.Route
	}
	if n := len(rec.Cache); n > 0 {
		line += fmt.Sprintf("  cache:%d", n)
	}
	if rec.Truncated {
		line += "  [truncated]"
	}
	if rec.Error != "" {
		line += "  error: " + rec.Error
	}
	return line
}
