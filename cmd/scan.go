package cmd

import (
	"fmt"
	"net/http"
	"time"

	"assurance/internal/model"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
)

const scanProgress = `{{ string . "phase" }} {{ counters . }} entries {{ etime . }}`

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run and cancel scans",
}

var scanRunCmd = &cobra.Command{
	Use:   "run [definition-id]",
	Short: "Scan both trees of a definition and store the comparison",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]

		var snap model.ScanSnapshot
		if err := call(http.MethodPost, "/definitions/"+id+"/scan", nil, &snap); err != nil {
			return err
		}

		bar := pb.ProgressBarTemplate(scanProgress).Start64(0)
		bar.Set("phase", string(snap.Phase))

		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()

		for range ticker.C {
			running, err := runningScan(id)
			if err != nil {
				bar.Finish()
				return err
			}
			if running == nil {
				break
			}

			bar.Set("phase", string(running.Phase))
			bar.SetCurrent(int64(running.SourceCount + running.TargetCount))
		}
		bar.Finish()

		var results []model.ScanResult
		if err := call(http.MethodGet, fmt.Sprintf("/results?definition=%s&n=1", id), nil, &results); err != nil {
			return err
		}
		if len(results) == 0 || results[0].StartedAt.Before(snap.StartedAt) {
			return fmt.Errorf("scan of %s stored no result, see daemon log", id)
		}

		printSummary(results[0])
		return nil
	},
}

var scanCancelCmd = &cobra.Command{
	Use:   "cancel [definition-id]",
	Short: "Cancel a running scan; the partial result is kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := call(http.MethodDelete, "/definitions/"+args[0]+"/scan", nil, nil); err != nil {
			return err
		}

		fmt.Printf("scan of %s cancelling\n", args[0])
		return nil
	},
}

func runningScan(definitionID string) (*model.ScanSnapshot, error) {
	var status struct {
		Scans []model.ScanSnapshot `json:"scans"`
	}
	if err := call(http.MethodGet, "/status", nil, &status); err != nil {
		return nil, err
	}

	for i := range status.Scans {
		if status.Scans[i].DefinitionID == definitionID {
			return &status.Scans[i], nil
		}
	}

	return nil, nil
}

func printSummary(r model.ScanResult) {
	partial := ""
	if r.Partial {
		partial = " (partial)"
	}

	fmt.Printf("result %s%s: %d identical, %d differing, %d source only, %d target only, %s\n",
		r.ID, partial, r.Identical, r.Differing, r.SourceOnly, r.TargetOnly, r.Status)
}

func init() {
	scanCmd.AddCommand(scanRunCmd, scanCancelCmd)
	rootCmd.AddCommand(scanCmd)
}
