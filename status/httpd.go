package status

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/PowerDNS/replstream/config"
	"github.com/PowerDNS/replstream/server"
	"github.com/PowerDNS/replstream/snapshot"
	"github.com/PowerDNS/replstream/termlog"
)

const (
	// listTimeout limits the storage listing done for a status page request
	listTimeout       = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// NewRouter returns the handler for the status server. Paths it does not
// know, like /healthz, fall through to http.DefaultServeMux.
func NewRouter(c config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Method(http.MethodGet, "/", &Page{c: c})
	r.NotFound(http.DefaultServeMux.ServeHTTP)
	return r
}

// StartHTTPServer serves the status router in the background when an
// address is configured. A listen error is fatal.
func StartHTTPServer(c config.Config) {
	l := logrus.WithField("address", c.HTTP.Address)
	if c.HTTP.Address == "" {
		l.Info("HTTP status server disabled")
		return
	}
	srv := &http.Server{
		Addr:              c.HTTP.Address,
		Handler:           NewRouter(c),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	l.Info("HTTP status server enabled")
	go func() {
		l.WithError(srv.ListenAndServe()).Fatal("HTTP status server stopped")
	}()
}

type Page struct {
	c config.Config
}

const statusTemplateString = `<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<title>replstream status</title>
	<style>
		body          { font-family: sans-serif; }
		table, td, th { border: 1px solid #ccc; border-collapse: collapse; }
		td, th        { padding: 5px; text-align: left; }
		td.num        { text-align: right; }
		td.error      { background-color: #ffb8b8; }
		td.no-error   { background-color: #a6f3a6; }
		a             { text-decoration: none; color: #3c6ac5; }
	</style>
</head>
<body>
	<h1>replstream status: {{ .Config.Group.Name }}</h1>
	<p>
		<a href="/metrics">Prometheus metrics</a> |
		<a href="/healthz">Health</a>
	</p>

	<h2>Last send</h2>
	{{ with .LastEvent }}
	<table>
		<tr><th>Time</th><th>Receiver</th><th>Snapshot</th><th>Position</th><th>Bytes</th><th>Duration</th><th>Status</th></tr>
		<tr>
			<td>{{ .Time.Format "2006-01-02 15:04:05" }}</td>
			<td>{{ .Remote }}</td>
			<td>{{ .Snapshot }}</td>
			<td class="num">{{ .Position }}</td>
			<td class="num">{{ .Bytes }}</td>
			<td class="num">{{ .Duration }}</td>
			{{ if .Err }}<td class="error">{{ .Err }}</td>{{ else }}<td class="no-error">ok</td>{{ end }}
		</tr>
	</table>
	{{ else }}
	<p>No snapshot requests yet</p>
	{{ end }}

	<h2>Terms</h2>
	{{ if .TermsErr }}<p class="error">{{ .TermsErr }}</p>{{ end }}
	<table>
		<tr><th>Term</th><th>Prev</th><th>Start</th><th>End</th></tr>
		{{ range .Terms }}
		<tr>
			<td class="num">{{ .Num }}</td>
			<td class="num">{{ .Prev }}</td>
			<td class="num">{{ .Start }}</td>
			<td class="num">{{ .End }}</td>
		</tr>
		{{ end }}
	</table>

	<h2>Stored snapshots</h2>
	{{ if .SnapshotsErr }}<p class="error">{{ .SnapshotsErr }}</p>{{ end }}
	<table>
		<tr><th>Name</th><th>Instance</th><th>Time</th><th>Position</th></tr>
		{{ range .Snapshots }}
		<tr>
			<td>{{ .FullName }}</td>
			<td>{{ .InstanceID }}</td>
			<td>{{ .Timestamp.Format "2006-01-02 15:04:05" }}</td>
			<td class="num">{{ .Position }}</td>
		</tr>
		{{ end }}
	</table>

	{{ range .DBInfo }}
	<h2>LMDB {{ .Name }}</h2>
	{{ if .Err }}<p class="error">{{ .Err }}</p>{{ end }}
	{{ with .Info }}<p>Map size {{ .MapSize }}, last txn {{ .LastTxnID }}, readers {{ .NumReaders }}</p>{{ end }}
	<table>
		<tr><th>DBI</th><th>Entries</th><th>Used</th><th>Flags</th></tr>
		{{ range .DBIStats }}
		<tr>
			<td>{{ .Name }}</td>
			<td class="num">{{ .Entries }}</td>
			<td class="num">{{ .Used.HumanReadable }}</td>
			<td>{{ .FlagsDisplay }}</td>
		</tr>
		{{ end }}
	</table>
	{{ end }}

	<h2>Config</h2>
	<pre>{{ .Config.String }}</pre>
</body>
</html>`

var statusTemplate = htmltemplate.Must(htmltemplate.New("status").Parse(statusTemplateString))

type pageData struct {
	Config       config.Config
	LastEvent    *server.Event
	Terms        []termlog.Term
	TermsErr     error
	Snapshots    []snapshot.NameInfo
	SnapshotsErr error
	DBInfo       []DBInfo
}

func (p *Page) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), listTimeout)
	defer cancel()

	data := pageData{
		Config: p.c,
		DBInfo: gi.DBInfo(),
	}
	if ev, ok := gi.LastEvent(); ok {
		data.LastEvent = &ev
	}
	data.Terms, data.TermsErr = gi.Terms()
	data.Snapshots, data.SnapshotsErr = gi.Snapshots(ctx, p.c.Group.Name)

	var buf bytes.Buffer
	if err := statusTemplate.Execute(&buf, data); err != nil {
		http.Error(w, fmt.Sprintf("status template: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
