package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/classwatch/classwatch/internal/roster"
	"github.com/classwatch/classwatch/internal/utils"
	"github.com/spf13/cobra"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Print the registered students as a table",
	Run: func(cmd *cobra.Command, args []string) {
		store := roster.NewStore(Cfg.StudentsCSV(), Cfg.PhotoDir())
		students, err := store.Load()
		if err != nil {
			utils.Die("Failed to load the roster", err, nil)
		}
		if len(students) == 0 {
			fmt.Println("No students registered yet.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ROLL NO\tNAME\tDEPARTMENT\tSECTION\tEMAIL\tPHONE\tPHOTO")
		for _, st := range students {
			photo := st.ImagePath
			if photo == "" {
				photo = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				st.RollNo, st.Name, st.Department, st.Section, st.Email, st.Phone, photo)
		}
		w.Flush()
		fmt.Printf("\n%d students registered.\n", len(students))
	},
}

func init() {
	rootCmd.AddCommand(rosterCmd)
}
