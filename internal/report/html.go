package report

import (
	"html/template"
	"io"
	"strings"
)

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"short": shortSHA,
	"join":  strings.Join,
	"lower": strings.ToLower,
	"stamp": func(r *Report) string { return r.Metadata.GeneratedAt.Format("2006-01-02 15:04:05 MST") },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Malicious Workflow Cleanup Report</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Helvetica, Arial, sans-serif; margin: 0; padding: 20px; background: #f6f8fa; }
.container { max-width: 1100px; margin: 0 auto; background: #fff; padding: 40px; border-radius: 8px; }
h1 { color: #d73a49; border-bottom: 3px solid #d73a49; padding-bottom: 10px; }
h2 { color: #0366d6; margin-top: 30px; }
.stats { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 16px; }
.stat { background: #24292e; color: #fff; padding: 16px; border-radius: 8px; text-align: center; }
.stat .value { font-size: 28px; font-weight: bold; }
table { width: 100%; border-collapse: collapse; margin: 16px 0; }
th, td { padding: 10px; text-align: left; border-bottom: 1px solid #e1e4e8; }
th { background: #f6f8fa; }
code { background: #f6f8fa; padding: 2px 6px; border-radius: 3px; }
.badge { display: inline-block; padding: 3px 8px; border-radius: 3px; font-size: 12px; font-weight: bold; color: #fff; }
.badge-p0 { background: #d73a49; }
.badge-p1 { background: #fb8c00; }
.badge-p2 { background: #0366d6; }
a { color: #0366d6; text-decoration: none; }
.footer { margin-top: 40px; padding-top: 20px; border-top: 1px solid #e1e4e8; color: #586069; font-size: 14px; }
</style>
</head>
<body>
<div class="container">
<h1>Malicious Workflow Cleanup Report</h1>
<p><strong>Generated:</strong> {{stamp .}}<br>
<strong>Keyword:</strong> <code>{{.Metadata.Signature}}</code><br>
<strong>Executor:</strong> {{.Metadata.Executor}}<br>
<strong>Mode:</strong> {{.Metadata.Mode}}<br>
<strong>Duration:</strong> {{.Metadata.Duration}}{{if .Metadata.RunURL}}<br>
<strong>Workflow run:</strong> <a href="{{.Metadata.RunURL}}">{{.Metadata.RunURL}}</a>{{end}}</p>

<h2>Statistics</h2>
<div class="stats">
<div class="stat"><div class="value">{{.Statistics.Infected}}</div>Infected repositories</div>
<div class="stat"><div class="value">{{.Statistics.Success}}</div>Remediated</div>
<div class="stat"><div class="value">{{.Statistics.Failed}}</div>Failed</div>
<div class="stat"><div class="value">{{.Statistics.DisabledWorkflows}}</div>Workflows disabled</div>
</div>

<h2>Infected repositories</h2>
{{if .Infected}}<ol>
{{range .Infected}}<li><a href="{{.URL}}">{{.Name}}</a>{{if .Path}} <code>{{.Path}}</code>{{end}}</li>
{{end}}</ol>{{else}}<p>No infected repositories found.</p>{{end}}

<h2>Cleaned repositories</h2>
{{if .Cleaned}}<table>
<thead><tr><th>Repository</th><th>Branch</th><th>Before</th><th>After</th><th>Removed files</th></tr></thead>
<tbody>
{{range .Cleaned}}<tr><td><a href="{{.URL}}">{{.Repository}}</a></td><td>{{.Branch}}</td><td><code>{{short .BeforeSHA}}</code></td><td><code>{{short .AfterSHA}}</code></td><td>{{join .DeletedFiles ", "}}</td></tr>
{{end}}</tbody>
</table>{{else}}<p>No files were removed.</p>{{end}}

<h2>Failed repositories</h2>
{{if .Failed}}<table>
<thead><tr><th>Repository</th><th>Reason</th><th>Suggestion</th></tr></thead>
<tbody>
{{range .Failed}}<tr><td><a href="{{.URL}}">{{.Repository}}</a></td><td>{{.Reason}}</td><td>{{.Suggestion}}</td></tr>
{{end}}</tbody>
</table>{{else}}<p>All repositories were processed successfully.</p>{{end}}

<h2>Next steps</h2>
{{range .NextSteps}}<h3><span class="badge badge-{{lower .Level}}">{{.Level}}</span> {{.Deadline}}</h3>
<ul>
{{range .Items}}<li>{{if .Link}}<a href="{{.Link}}">{{.Text}}</a>{{else}}{{.Text}}{{end}}</li>
{{end}}</ul>
{{end}}
<div class="footer"><p>Generated by workflowsweep at {{stamp .}}</p></div>
</div>
</body>
</html>
`))

func renderHTML(w io.Writer, r *Report) error {
	return htmlTemplate.Execute(w, r)
}
