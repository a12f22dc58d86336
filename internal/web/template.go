package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"doorwatch/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"seconds": func(d time.Duration) string {
		return fmt.Sprintf("%.1fs", d.Seconds())
	},
	"levelClass": func(s string) string {
		switch s {
		case "ACTIVE":
			return "active"
		case "IDLE":
			return "idle"
		default:
			return "unknown"
		}
	},
	"stateClass": func(s string) string {
		switch {
		case s == "IDLE":
			return "idle"
		case strings.HasSuffix(s, "_PENDING"):
			return "pending"
		default:
			return "unknown"
		}
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Doorwatch</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.active { color: green; font-weight: bold; }
.idle { color: #888; }
.pending { color: orange; font-weight: bold; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Doorwatch</h1>

<h2>State</h2>
<table>
<tr><th>Mode</th><td>{{.Config.Mode}}</td></tr>
{{if eq .Config.Mode "occupancy"}}
<tr><th>Sensor</th><td class="{{levelClass .Door}}">{{.Door}}</td></tr>
{{else}}
<tr><th>Correlator</th><td class="{{stateClass .State}}">{{.State}}</td></tr>
{{if .Remaining}}<tr><th>Window remaining</th><td>{{seconds .Remaining}}</td></tr>{{end}}
<tr><th>Motion</th><td class="{{levelClass .Motion}}">{{.Motion}}</td></tr>
<tr><th>Door</th><td class="{{levelClass .Door}}">{{.Door}}</td></tr>
{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Link</th><td class="{{if .LinkUp}}connected{{else}}disconnected{{end}}">{{if .LinkUp}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Backend</th><td>{{.Config.Backend}}</td></tr>
<tr><th>Target</th><td>{{.Config.Target}}</td></tr>
</table>

<h2>Event Counts</h2>
<table>
{{if eq .Config.Mode "occupancy"}}
<tr><th>Occupied</th><td>{{.Occupancy.Occupied}}</td></tr>
<tr><th>Freed</th><td>{{.Occupancy.Freed}}</td></tr>
{{else}}
<tr><th>Entries</th><td>{{.Traffic.Entries}}</td></tr>
<tr><th>Exits</th><td>{{.Traffic.Exits}}</td></tr>
<tr><th>Window lapsed</th><td>{{.Traffic.Lapsed}}</td></tr>
<tr><th>Sensor idle</th><td>{{.Traffic.SensorIdle}}</td></tr>
{{end}}
</table>

{{if .LastReading}}
<h2>Last Reading</h2>
<table>
<tr><th>Category</th><td>{{.LastReading.Category}}</td></tr>
<tr><th>Value</th><td>{{.LastReading.Detail}} ({{.LastReading.Value}})</td></tr>
<tr><th>At</th><td>{{.LastReading.At.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
</table>
{{end}}

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Window</th><td>{{.Config.WindowMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> &middot; <a href="/events.json">Events</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot carries typed state and levels; the template wants
	// plain strings with UNKNOWN for anything unset.
	data := struct {
		status.Snapshot
		Uptime    time.Duration
		Remaining time.Duration
		State     string
		Motion    string
		Door      string
	}{
		Snapshot:  snap,
		Uptime:    snap.Uptime(),
		Remaining: snap.WindowRemaining(),
		State:     orUnknown(string(snap.State)),
		Motion:    orUnknown(string(snap.Motion)),
		Door:      orUnknown(string(snap.Door)),
	}
	indexTmpl.Execute(w, data)
}

func orUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}
