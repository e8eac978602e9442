package cmd

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"assurance/internal/model"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View running scans",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			Scans []model.ScanSnapshot `json:"scans"`
		}
		if err := call(http.MethodGet, "/status", nil, &result); err != nil {
			return err
		}

		if len(result.Scans) == 0 {
			fmt.Println("no running scans")
			return nil
		}

		table := newTable(os.Stdout, "DEFINITION", "NAME", "PHASE", "SOURCE", "TARGET", "ELAPSED")
		for _, snap := range result.Scans {
			table.Append([]string{
				snap.DefinitionID,
				snap.Name,
				string(snap.Phase),
				strconv.Itoa(snap.SourceCount),
				strconv.Itoa(snap.TargetCount),
				time.Since(snap.StartedAt).Round(time.Second).String(),
			})
		}
		table.Render()

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
