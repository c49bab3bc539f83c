package server

import (
	"html/template"
)

// Templates are rendered with the standard library's html/template
// rather than a code-generated component system: the job dashboard is
// a handful of small, mostly-static pages, and stdlib templates keep
// the dependency surface here to what ships with Go.
var pageTemplates = template.Must(template.New("").Parse(`
{{define "layout"}}<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ccc; padding: 0.4em 0.8em; text-align: left; }
.state-running { color: #2563eb; }
.state-completed { color: #16a34a; }
.state-failed { color: #dc2626; }
.state-cancelled { color: #6b7280; }
.error { color: #dc2626; font-weight: bold; }
nav a { margin-right: 1em; }
</style>
</head>
<body>
<nav><a href="/">Jobs</a><a href="/create">New job</a></nav>
<h1>{{.Title}}</h1>
{{.Body}}
</body>
</html>
{{end}}

{{define "jobList"}}
<table>
<tr><th>ID</th><th>Kind</th><th>State</th><th>Cost</th><th>Started</th></tr>
{{range .Jobs}}
<tr>
<td><a href="/jobs/{{.ID}}">{{.ID}}</a></td>
<td>{{.Config.Kind}}</td>
<td class="state-{{.State}}">{{.State}}</td>
<td>{{.BestCost}}</td>
<td>{{.StartTime}}</td>
</tr>
{{else}}
<tr><td colspan="5">No jobs yet.</td></tr>
{{end}}
</table>
{{end}}

{{define "jobDetail"}}
<p>Kind: {{.Config.Kind}}</p>
<p>State: <span class="state-{{.State}}">{{.State}}</span></p>
{{if eq (print .Config.Kind) "register"}}
<p>Fixed: {{.Config.FixedPath}}</p>
<p>Moving: {{.Config.MovingPath}}</p>
<p>Metric: {{.Config.Metric}}</p>
<p>Metric value: {{.BestCost}}</p>
{{else}}
<p>Reorg prefix: {{.Config.ReorgPrefix}}</p>
<p>Stage: {{.Stage}}</p>
<p>Selected rank: {{.Rank}}</p>
{{end}}
<p>Elapsed: {{.Elapsed}}</p>
{{if .Error}}<p class="error">Error: {{.Error}}</p>{{end}}
{{end}}

{{define "jobNotFound"}}<p>No job with ID {{.}} was found.</p>{{end}}

{{define "createForm"}}
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<form method="post" action="/create">
<p>Kind: <select name="kind"><option value="register">register</option><option value="gica">gica</option></select></p>
<p>Fixed path: <input type="text" name="fixedPath"></p>
<p>Moving path: <input type="text" name="movingPath"></p>
<p>Metric (COR/MI/NMI/VI): <input type="text" name="metric" value="COR"></p>
<p>Reorg prefix: <input type="text" name="reorgPrefix"></p>
<p>Seed: <input type="text" name="seed" value="42"></p>
<p><button type="submit">Create job</button></p>
</form>
{{end}}
`))

type layoutData struct {
	Title string
	Body  template.HTML
}
