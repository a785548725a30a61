package cmd

import (
	"fmt"
	"os"

	"github.com/classwatch/classwatch/internal/report"
	"github.com/classwatch/classwatch/internal/roster"
	"github.com/classwatch/classwatch/internal/utils"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import WORKBOOK",
	Short: "Bulk-import students from an XLSX workbook",
	Long: `Reads the first sheet of the workbook, skipping the header row. Expected
column order: roll_no, name, department, section, email, phone. Imported
students have no photo until one is captured with "classwatch register".`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		file, err := os.Open(args[0])
		if err != nil {
			utils.Die("Cannot open the workbook", err, nil)
		}
		defer file.Close()

		store := roster.NewStore(Cfg.StudentsCSV(), Cfg.PhotoDir())
		added, skipped, err := store.ImportXLSX(file)
		if err != nil {
			utils.Die("Import failed", err, nil)
		}

		fmt.Printf("Imported %d students.\n", added)
		for _, reason := range skipped {
			fmt.Printf("  skipped %s\n", reason)
		}
	},
}

var exportCmd = &cobra.Command{
	Use:   "export WORKBOOK",
	Short: "Export the session report as an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		file, err := os.Create(args[0])
		if err != nil {
			utils.Die("Cannot create the workbook", err, nil)
		}
		defer file.Close()

		store := report.NewStore(Cfg.ReportCSV())
		n, err := store.ExportXLSX(file)
		if err != nil {
			utils.Die("Export failed", err, nil)
		}
		fmt.Printf("Exported %d report rows to %s.\n", n, args[0])
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}
