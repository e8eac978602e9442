package cmd

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"assurance/internal/model"

	"github.com/spf13/cobra"
)

var (
	resultDefinition string
	resultN          int
	resultAll        bool
)

var resultCmd = &cobra.Command{
	Use:   "result",
	Short: "Inspect and resolve scan results",
}

var resultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored results, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/results?n=%d&definition=%s", resultN, resultDefinition)

		var results []model.ScanResult
		if err := call(http.MethodGet, path, nil, &results); err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("no results yet")
			return nil
		}

		table := newTable(os.Stdout, "ID", "DEFINITION", "COMPLETED", "IDENTICAL", "DIFFERING", "SOURCE ONLY", "TARGET ONLY", "STATUS")
		for _, r := range results {
			status := string(r.Status)
			if r.Partial {
				status += " (partial)"
			}
			table.Append([]string{
				r.ID,
				r.Definition.Name,
				r.CompletedAt.Format("2006-01-02 15:04:05"),
				fmt.Sprint(r.Identical),
				fmt.Sprint(r.Differing),
				fmt.Sprint(r.SourceOnly),
				fmt.Sprint(r.TargetOnly),
				status,
			})
		}
		table.Render()

		return nil
	},
}

var resultShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show the entries of a result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r model.ScanResult
		if err := call(http.MethodGet, "/results/"+args[0], nil, &r); err != nil {
			return err
		}

		fmt.Printf("%s -> %s\n", r.Definition.SourcePath, r.Definition.TargetPath)
		printSummary(r)

		latest := model.LatestResolutions(r.Resolutions)
		table := newTable(os.Stdout, "PATH", "STATUS", "DIFFERENCES", "RESOLUTION")
		for _, e := range r.Entries {
			if !resultAll && !e.NeedsResolution() {
				continue
			}

			diffs := make([]string, 0, len(e.Differences))
			for _, d := range e.Differences {
				diffs = append(diffs, string(d))
			}

			table.Append([]string{e.Path, string(e.Status), strings.Join(diffs, ","), describe(latest[e.Path])})
		}
		table.Render()

		return nil
	},
}

var resultRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a stored result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := call(http.MethodDelete, "/results/"+args[0], nil, nil); err != nil {
			return err
		}

		fmt.Printf("result %s removed\n", args[0])
		return nil
	},
}

type resolution struct {
	Resolution model.MergeResolution  `json:"resolution"`
	Status     model.ResolutionStatus `json:"status"`
}

type resolutions struct {
	Resolutions []model.MergeResolution `json:"resolutions"`
	Status      model.ResolutionStatus  `json:"status"`
}

var resultResolveCmd = &cobra.Command{
	Use:   "resolve [id] [path] [choice]",
	Short: "Resolve one entry with USE_SOURCE, USE_TARGET, BOTH or SKIP",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"path": args[1], "choice": strings.ToUpper(args[2])}

		var out resolution
		if err := call(http.MethodPost, "/results/"+args[0]+"/resolve", body, &out); err != nil {
			return err
		}

		fmt.Printf("%s: %s, result %s\n", args[1], describe(&out.Resolution), out.Status)
		return nil
	},
}

var resultMergeCmd = &cobra.Command{
	Use:   "merge [id] [choice]",
	Short: "Apply one choice to every unresolved entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"choice": strings.ToUpper(args[1])}

		var out resolutions
		if err := call(http.MethodPost, "/results/"+args[0]+"/merge", body, &out); err != nil {
			return err
		}

		printResolutions(out)
		return nil
	},
}

var resultAutoMergeCmd = &cobra.Command{
	Use:   "auto-merge [id]",
	Short: "Resolve entries by the strategy of the scanned definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out resolutions
		if err := call(http.MethodPost, "/results/"+args[0]+"/auto-merge", nil, &out); err != nil {
			return err
		}

		printResolutions(out)
		return nil
	},
}

var resultRestoreCmd = &cobra.Command{
	Use:   "restore [id] [path]",
	Short: "Move a trashed entry back and reopen it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"path": args[1]}

		var out resolution
		if err := call(http.MethodPost, "/results/"+args[0]+"/restore", body, &out); err != nil {
			return err
		}

		fmt.Printf("%s: %s, result %s\n", args[1], describe(&out.Resolution), out.Status)
		return nil
	},
}

func printResolutions(out resolutions) {
	if len(out.Resolutions) == 0 {
		fmt.Printf("nothing to merge, result %s\n", out.Status)
		return
	}

	table := newTable(os.Stdout, "PATH", "RESOLUTION")
	failed := 0
	for i := range out.Resolutions {
		res := &out.Resolutions[i]
		if !res.Succeeded {
			failed++
		}
		table.Append([]string{res.EntryPath, describe(res)})
	}
	table.Render()

	fmt.Printf("%d merged, %d failed, result %s\n", len(out.Resolutions)-failed, failed, out.Status)
}

func describe(res *model.MergeResolution) string {
	if res == nil {
		return "-"
	}

	s := string(res.Action)
	if res.Side != "" {
		s += " " + strings.ToLower(string(res.Side))
	}
	if res.Auto {
		s += " (auto)"
	}
	if !res.Succeeded {
		s += " failed: " + res.Error
	}

	return s
}

func init() {
	resultListCmd.Flags().StringVar(&resultDefinition, "definition", "", "only results of this definition")
	resultListCmd.Flags().IntVar(&resultN, "n", 20, "number of results to show")
	resultShowCmd.Flags().BoolVar(&resultAll, "all", false, "include identical entries")

	resultCmd.AddCommand(
		resultListCmd,
		resultShowCmd,
		resultRemoveCmd,
		resultResolveCmd,
		resultMergeCmd,
		resultAutoMergeCmd,
		resultRestoreCmd,
	)
	rootCmd.AddCommand(resultCmd)
}
