package inspector

import (
	"bytes"
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/getmockd/peek/pkg/capture"
	"github.com/getmockd/peek/pkg/httputil"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.New("").Funcs(template.FuncMap{
	"json":   prettyJSON,
	"millis": formatMillis,
	"status": statusClass,
}).ParseFS(templateFS, "templates/*.html"))

type dashboardData struct {
	BasePath string
	Token    string
}

type entryData struct {
	BasePath string
	Token    string
	Record   *capture.Record
}

// handleDashboard serves the live dashboard.
func (in *Inspector) handleDashboard(w http.ResponseWriter, r *http.Request) {
	in.render(w, "dashboard.html", dashboardData{
		BasePath: in.opts.BasePath,
		Token:    r.URL.Query().Get("token"),
	})
}

// handleEntry serves the detail page of one record.
func (in *Inspector) handleEntry(w http.ResponseWriter, r *http.Request) {
	rec, ok := in.lookup(r)
	if !ok {
		httputil.WriteNotFound(w, "not_found", "record not found")
		return
	}
	in.render(w, "entry.html", entryData{
		BasePath: in.opts.BasePath,
		Token:    r.URL.Query().Get("token"),
		Record:   rec,
	})
}

func (in *Inspector) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		in.logger.Error("template render failed", "template", name, "error", err)
		httputil.WriteInternalError(w, "render_failed", "failed to render page")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func prettyJSON(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05.000")
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "s5"
	case code >= 400:
		return "s4"
	case code >= 300:
		return "s3"
	default:
		return "s2"
	}
}
