package web

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/classwatch/classwatch/internal/roster"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

// Registrar serves the registration form and the bulk XLSX import.
type Registrar struct {
	Roster *roster.Store
}

// NewRegistrar wires the registrar routes onto a fresh engine. The session
// secret signs the flash-message cookie.
func NewRegistrar(store *roster.Store, sessionSecret string) *gin.Engine {
	h := &Registrar{Roster: store}

	r := newEngine()
	cookieStore := cookie.NewStore([]byte(sessionSecret))
	r.Use(sessions.Sessions("classwatch_registrar", cookieStore))

	r.GET("/", h.ShowForm)
	r.POST("/register", h.Register)
	r.POST("/import", h.Import)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

// flash queues a one-shot message for the next page render.
func flash(c *gin.Context, kind, msg string) {
	session := sessions.Default(c)
	session.AddFlash(kind + "|" + msg)
	if err := session.Save(); err != nil {
		log.Printf("Failed to save flash message: %v", err)
	}
}

type flashMessage struct {
	Kind string
	Text string
}

// takeFlashes drains the queued flash messages.
func takeFlashes(c *gin.Context) []flashMessage {
	session := sessions.Default(c)
	raw := session.Flashes()
	if len(raw) > 0 {
		if err := session.Save(); err != nil {
			log.Printf("Failed to clear flash messages: %v", err)
		}
	}

	var out []flashMessage
	for _, f := range raw {
		s, ok := f.(string)
		if !ok {
			continue
		}
		kind, text, found := strings.Cut(s, "|")
		if !found {
			kind, text = "error", s
		}
		out = append(out, flashMessage{Kind: kind, Text: text})
	}
	return out
}

// ShowForm handles GET /.
func (h *Registrar) ShowForm(c *gin.Context) {
	c.HTML(http.StatusOK, "register.html", gin.H{
		"Flashes": takeFlashes(c),
	})
}

// Register handles POST /register: field validation, the duplicate scan,
// the photo save, and the roster append, in the order users see failures.
func (h *Registrar) Register(c *gin.Context) {
	st := roster.Student{
		RollNo:     strings.TrimSpace(c.PostForm("roll_no")),
		Name:       strings.TrimSpace(c.PostForm("name")),
		Department: strings.TrimSpace(c.PostForm("department")),
		Section:    strings.TrimSpace(c.PostForm("section")),
		Email:      strings.TrimSpace(c.PostForm("email")),
		Phone:      strings.TrimSpace(c.PostForm("phone")),
	}

	if err := roster.Validate(st); err != nil {
		h.fail(c, err.Error())
		return
	}
	if err := h.Roster.Conflict(st); err != nil {
		h.fail(c, err.Error())
		return
	}

	file, err := c.FormFile("photo")
	if err != nil {
		h.fail(c, "A photo is required")
		return
	}

	src, err := file.Open()
	if err != nil {
		log.Printf("Failed to open uploaded photo: %v", err)
		h.fail(c, "Could not read the uploaded photo")
		return
	}
	defer src.Close()

	path, err := h.Roster.SavePhoto(st.RollNo, file.Filename, src)
	if err != nil {
		log.Printf("Failed to save photo for %s: %v", st.RollNo, err)
		h.fail(c, "Could not save the uploaded photo")
		return
	}
	st.ImagePath = path

	if err := h.Roster.Append(st); err != nil {
		log.Printf("Failed to append student %s: %v", st.RollNo, err)
		h.fail(c, "Could not save the registration")
		return
	}

	flash(c, "success", fmt.Sprintf("Registered %s (%s)", st.Name, st.RollNo))
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Registrar) fail(c *gin.Context, msg string) {
	flash(c, "error", msg)
	c.Redirect(http.StatusSeeOther, "/")
}

// Import handles POST /import: bulk registration from an XLSX workbook.
func (h *Registrar) Import(c *gin.Context) {
	file, err := c.FormFile("workbook")
	if err != nil {
		h.fail(c, "An XLSX workbook is required")
		return
	}

	src, err := file.Open()
	if err != nil {
		log.Printf("Failed to open uploaded workbook: %v", err)
		h.fail(c, "Could not read the uploaded workbook")
		return
	}
	defer src.Close()

	added, skipped, err := h.Roster.ImportXLSX(src)
	if err != nil {
		log.Printf("Workbook import failed: %v", err)
		h.fail(c, "Could not import the workbook: "+err.Error())
		return
	}

	msg := fmt.Sprintf("Imported %d students", added)
	if len(skipped) > 0 {
		msg += fmt.Sprintf(", skipped %d rows (%s)", len(skipped), strings.Join(skipped, "; "))
	}
	flash(c, "success", msg)
	c.Redirect(http.StatusSeeOther, "/")
}
