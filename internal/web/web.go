// Package web builds the two HTTP applications: the registrar (the student
// registration form) and the dashboard (read-only reporting over the two
// CSV files plus the live session view).
package web

import (
	"embed"
	"html/template"

	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templatesFS embed.FS

// newEngine builds a gin engine with the embedded templates attached.
func newEngine() *gin.Engine {
	r := gin.Default()
	r.SetHTMLTemplate(template.Must(template.New("").ParseFS(templatesFS, "templates/*.html")))
	return r
}
