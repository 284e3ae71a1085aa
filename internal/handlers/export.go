package handlers

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/medscan/internal/session"
)

// exportTemplate renders a result as a printable page. Presentation only;
// the session is not modified.
var exportTemplate = template.Must(template.New("export").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Scan Report {{.ID}}</title>
<style>
body { font-family: Georgia, serif; margin: 2em auto; max-width: 40em; }
h1 { border-bottom: 2px solid #333; padding-bottom: 0.3em; }
dt { font-weight: bold; margin-top: 1em; }
footer { margin-top: 3em; font-size: 0.8em; color: #666; }
</style>
</head>
<body>
<h1>Scan Report</h1>
<dl>
<dt>Session</dt><dd>{{.ID}}</dd>
<dt>Imaging Type</dt><dd>{{.Report.ImagingType}}</dd>
<dt>Organ</dt><dd>{{.Report.OrganName}}</dd>
<dt>Findings</dt><dd>{{.Report.Findings}}</dd>
{{if .Report.ProfessionalDetails}}<dt>Professional Details</dt>
<dd><ol>{{range .Report.ProfessionalDetails}}<li>{{.}}</li>{{end}}</ol></dd>{{end}}
</dl>
<footer>Generated by medscan. Not a substitute for professional medical advice.</footer>
</body>
</html>
`))

func renderExport(c *gin.Context, view session.View) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := exportTemplate.Execute(c.Writer, view); err != nil {
		// Headers are already out; nothing useful to send.
		_ = c.Error(err)
	}
}
