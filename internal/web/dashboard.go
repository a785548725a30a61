package web

import (
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/classwatch/classwatch/internal/live"
	"github.com/classwatch/classwatch/internal/report"
	"github.com/classwatch/classwatch/internal/roster"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Dashboard serves the read-only reporting pages.
type Dashboard struct {
	Roster   *roster.Store
	Report   *report.Store
	PhotoDir string
	Live     *live.Reader // nil when Redis is disabled

	now func() time.Time
}

// NewDashboard wires the dashboard routes onto a fresh engine.
func NewDashboard(rosterStore *roster.Store, reportStore *report.Store, photoDir string, liveReader *live.Reader) *gin.Engine {
	h := &Dashboard{
		Roster:   rosterStore,
		Report:   reportStore,
		PhotoDir: photoDir,
		Live:     liveReader,
		now:      time.Now,
	}

	r := newEngine()
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
	}))

	r.GET("/", h.Home)
	r.GET("/students", h.Students)
	r.GET("/sessions", h.Sessions)
	r.GET("/sessions/view", h.SessionView)
	r.GET("/reports/download", h.DownloadCSV)
	r.GET("/reports/download.xlsx", h.DownloadXLSX)
	r.GET("/student_image/:file", h.StudentImage)
	r.GET("/live", h.LiveSnapshot)
	r.GET("/live/ws", h.LiveWS)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

// Home handles GET /: today's totals and the recent sessions.
func (h *Dashboard) Home(c *gin.Context) {
	students, err := h.Roster.Load()
	if err != nil {
		h.serverError(c, "Failed to load the roster", err)
		return
	}

	today := h.now().Format("2006-01-02")
	summary, err := h.Report.TodaySummary(today, len(students))
	if err != nil {
		h.serverError(c, "Failed to load the report", err)
		return
	}

	c.HTML(http.StatusOK, "dashboard.html", gin.H{
		"Today":   today,
		"Summary": summary,
	})
}

// Students handles GET /students with department/section filters.
func (h *Dashboard) Students(c *gin.Context) {
	students, err := h.Roster.Load()
	if err != nil {
		h.serverError(c, "Failed to load the roster", err)
		return
	}

	department := c.Query("department")
	section := c.Query("section")

	c.HTML(http.StatusOK, "students.html", gin.H{
		"Students":    roster.Filter(students, department, section),
		"Departments": roster.Departments(students),
		"Sections":    roster.Sections(students),
		"Department":  department,
		"Section":     section,
	})
}

// Sessions handles GET /sessions: every session, newest first.
func (h *Dashboard) Sessions(c *gin.Context) {
	keys, err := h.Report.Sessions()
	if err != nil {
		h.serverError(c, "Failed to load the report", err)
		return
	}
	c.HTML(http.StatusOK, "sessions.html", gin.H{"Sessions": keys})
}

// SessionView handles GET /sessions/view?date=&time=.
func (h *Dashboard) SessionView(c *gin.Context) {
	date := c.Query("date")
	clock := c.Query("time")
	if date == "" || clock == "" {
		c.HTML(http.StatusBadRequest, "error.html", gin.H{"Message": "date and time are required"})
		return
	}

	rows, err := h.Report.ForSession(date, clock)
	if err != nil {
		h.serverError(c, "Failed to load the report", err)
		return
	}

	c.HTML(http.StatusOK, "session_view.html", gin.H{
		"Date": date,
		"Time": clock,
		"Rows": rows,
	})
}

// DownloadCSV handles GET /reports/download.
func (h *Dashboard) DownloadCSV(c *gin.Context) {
	if _, err := os.Stat(h.Report.CSVPath); os.IsNotExist(err) {
		c.String(http.StatusNotFound, "No report found yet.")
		return
	}
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="class_report.csv"`)
	c.File(h.Report.CSVPath)
}

// DownloadXLSX handles GET /reports/download.xlsx.
func (h *Dashboard) DownloadXLSX(c *gin.Context) {
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", `attachment; filename="class_report.xlsx"`)
	if _, err := h.Report.ExportXLSX(c.Writer); err != nil {
		log.Printf("Failed to export the report workbook: %v", err)
	}
}

// StudentImage handles GET /student_image/:file. The filename is reduced to
// its base so the route cannot escape the photo folder.
func (h *Dashboard) StudentImage(c *gin.Context) {
	name := filepath.Base(c.Param("file"))
	if name == "." || name == ".." || name == "/" {
		c.String(http.StatusBadRequest, "Bad filename")
		return
	}

	path := filepath.Join(h.PhotoDir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		c.String(http.StatusNotFound, "Photo not found")
		return
	}
	c.File(path)
}

// LiveSnapshot handles GET /live: the current session snapshot as JSON.
func (h *Dashboard) LiveSnapshot(c *gin.Context) {
	if h.Live == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "live view is disabled"})
		return
	}

	snap, err := h.Live.Current(c.Request.Context())
	if err == live.ErrNoSession {
		c.JSON(http.StatusNotFound, gin.H{"error": "no live session"})
		return
	}
	if err != nil {
		log.Printf("Failed to read the live snapshot: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read the live snapshot"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

var upgrader = websocket.Upgrader{
	// The dashboard is an internal tool; readers connect from any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// LiveWS handles GET /live/ws: pushes the live snapshot once per second
// until the client goes away.
func (h *Dashboard) LiveWS(c *gin.Context) {
	if h.Live == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "live view is disabled"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade to WebSocket: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			snap, err := h.Live.Current(c.Request.Context())
			if err == live.ErrNoSession {
				if err := conn.WriteJSON(gin.H{"status": "idle"}); err != nil {
					return // client disconnected
				}
				continue
			}
			if err != nil {
				log.Printf("Failed to read the live snapshot: %v", err)
				continue
			}
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		}
	}
}

func (h *Dashboard) serverError(c *gin.Context, msg string, err error) {
	log.Printf("%s: %v", msg, err)
	c.HTML(http.StatusInternalServerError, "error.html", gin.H{"Message": msg})
}
