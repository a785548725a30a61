package cmd

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/classwatch/classwatch/internal/live"
	"github.com/classwatch/classwatch/internal/report"
	"github.com/classwatch/classwatch/internal/roster"
	"github.com/classwatch/classwatch/internal/web"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Serve the student registration form",
	Run: func(cmd *cobra.Command, args []string) {
		store := roster.NewStore(Cfg.StudentsCSV(), Cfg.PhotoDir())
		engine := web.NewRegistrar(store, Cfg.Web.SessionSecret)
		serve(cmd.Context(), "registrar", Cfg.Web.RegistrarAddr, engine)
	},
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Serve the reporting dashboard",
	Run: func(cmd *cobra.Command, args []string) {
		rosterStore := roster.NewStore(Cfg.StudentsCSV(), Cfg.PhotoDir())
		reportStore := report.NewStore(Cfg.ReportCSV())

		var liveReader *live.Reader
		if Cfg.Redis.Enabled {
			liveReader = live.NewReader(Cfg.Redis.Addr, Cfg.Redis.DB)
			defer liveReader.Close()
		}

		engine := web.NewDashboard(rosterStore, reportStore, Cfg.PhotoDir(), liveReader)
		serve(cmd.Context(), "dashboard", Cfg.Web.DashboardAddr, engine)
	},
}

func init() {
	rootCmd.AddCommand(webCmd)
	rootCmd.AddCommand(dashboardCmd)
}

// serve runs the engine until the context is cancelled, then shuts down
// gracefully so in-flight CSV reads finish.
func serve(ctx context.Context, name, addr string, engine *gin.Engine) {
	srv := &http.Server{Addr: addr, Handler: engine}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting the %s on %s", name, addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("The %s failed: %v", name, err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown of the %s was not clean: %v", name, err)
		}
	}
}
