package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"assurance/internal/dialog"
	"assurance/internal/model"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	defStrategy  string
	defExtended  bool
	defAdvanced  bool
	defAutoMerge bool
	defDeepScan  bool
	defExclude   []string
)

var definitionCmd = &cobra.Command{
	Use:     "definition",
	Aliases: []string{"def"},
	Short:   "Manage scan definitions",
}

var definitionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all scan definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		var defs []model.ScanDefinition
		if err := call(http.MethodGet, "/definitions", nil, &defs); err != nil {
			return err
		}

		if len(defs) == 0 {
			fmt.Println("no definitions configured")
			return nil
		}

		table := newTable(os.Stdout, "ID", "NAME", "SOURCE", "TARGET", "STRATEGY", "AUTO MERGE")
		for _, d := range defs {
			table.Append([]string{d.ID, d.Name, d.SourcePath, d.TargetPath, string(d.Strategy), strconv.FormatBool(d.AutoMerge)})
		}
		table.Render()

		return nil
	},
}

var definitionShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a scan definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var def model.ScanDefinition
		if err := call(http.MethodGet, "/definitions/"+args[0], nil, &def); err != nil {
			return err
		}

		out, err := yaml.Marshal(def)
		if err != nil {
			return fmt.Errorf("failed to encode definition: %w", err)
		}

		fmt.Printf("id: %s\n%s", def.ID, out)
		return nil
	},
}

var definitionAddCmd = &cobra.Command{
	Use:   "add [name] [source] [target]",
	Short: "Add a scan definition, asking for missing paths",
	Args:  cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := selectPaths(cmd.Context(), args[1:])
		if err != nil {
			return err
		}

		def := model.ScanDefinition{
			Name:                      args[0],
			SourcePath:                paths[0],
			TargetPath:                paths[1],
			Strategy:                  model.MergeStrategy(strings.ToUpper(defStrategy)),
			IncludeExtendedTimestamps: defExtended,
			IncludeAdvancedAttributes: defAdvanced,
			AutoMerge:                 defAutoMerge,
			DeepScan:                  defDeepScan,
			Exclusions:                defExclude,
		}

		if err := call(http.MethodPost, "/definitions", def, &def); err != nil {
			return err
		}

		fmt.Printf("definition added: id=%s name=%s\n", def.ID, def.Name)
		return nil
	},
}

var definitionUpdateCmd = &cobra.Command{
	Use:   "update [id]",
	Short: "Change options of a scan definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var def model.ScanDefinition
		if err := call(http.MethodGet, "/definitions/"+args[0], nil, &def); err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("strategy") {
			def.Strategy = model.MergeStrategy(strings.ToUpper(defStrategy))
		}
		if flags.Changed("extended-timestamps") {
			def.IncludeExtendedTimestamps = defExtended
		}
		if flags.Changed("advanced-attributes") {
			def.IncludeAdvancedAttributes = defAdvanced
		}
		if flags.Changed("auto-merge") {
			def.AutoMerge = defAutoMerge
		}
		if flags.Changed("deep-scan") {
			def.DeepScan = defDeepScan
		}
		if flags.Changed("exclude") {
			def.Exclusions = defExclude
		}

		if err := call(http.MethodPut, "/definitions/"+args[0], def, &def); err != nil {
			return err
		}

		fmt.Printf("definition %s updated\n", def.ID)
		return nil
	},
}

var definitionRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a scan definition; its results are kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := call(http.MethodDelete, "/definitions/"+args[0], nil, nil); err != nil {
			return err
		}

		fmt.Printf("definition %s removed\n", args[0])
		return nil
	},
}

var definitionExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write all scan definitions as YAML",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var defs []model.ScanDefinition
		if err := call(http.MethodGet, "/definitions", nil, &defs); err != nil {
			return err
		}

		out, err := yaml.Marshal(defs)
		if err != nil {
			return fmt.Errorf("failed to encode definitions: %w", err)
		}

		if len(args) == 0 {
			_, err = os.Stdout.Write(out)
			return err
		}

		if err := os.WriteFile(args[0], out, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", args[0], err)
		}

		fmt.Printf("%d definitions exported to %s\n", len(defs), args[0])
		return nil
	},
}

var definitionImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Add scan definitions from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		var defs []model.ScanDefinition
		if err := yaml.Unmarshal(data, &defs); err != nil {
			return fmt.Errorf("failed to parse %s: %w", args[0], err)
		}

		added := 0
		for _, def := range defs {
			if err := call(http.MethodPost, "/definitions", def, &def); err != nil {
				fmt.Printf("skipped %s: %v\n", def.Name, err)
				continue
			}
			added++
		}

		fmt.Printf("%d of %d definitions imported\n", added, len(defs))
		return nil
	},
}

// selectPaths fills in the source and target paths that were not given on
// the command line.
func selectPaths(ctx context.Context, given []string) ([2]string, error) {
	var paths [2]string
	copy(paths[:], given)

	var selector dialog.PathSelector = dialog.NewPrompt(os.Stdin, os.Stdout)
	titles := [2]string{"Source directory", "Target directory"}

	for i := range paths {
		if paths[i] != "" {
			continue
		}

		path, err := selector.SelectPath(ctx, dialog.Options{Title: titles[i], Kind: dialog.KindDirectory})
		if errors.Is(err, dialog.ErrCancelled) {
			return paths, errors.New("definition not added: no path selected")
		}
		if err != nil {
			return paths, err
		}
		paths[i] = path
	}

	return paths, nil
}

func init() {
	for _, c := range []*cobra.Command{definitionAddCmd, definitionUpdateCmd} {
		f := c.Flags()
		f.StringVar(&defStrategy, "strategy", string(model.StrategySourceWins), "merge strategy: SOURCE_WINS, TARGET_WINS or BOTH")
		f.BoolVar(&defExtended, "extended-timestamps", false, "compare modification and access times")
		f.BoolVar(&defAdvanced, "advanced-attributes", false, "compare owner, group, ACL and extended attributes")
		f.BoolVar(&defAutoMerge, "auto-merge", false, "resolve entries by strategy after each scan")
		f.BoolVar(&defDeepScan, "deep-scan", false, "compare file contents")
		f.StringSliceVar(&defExclude, "exclude", nil, "glob of relative paths to leave out")
	}

	definitionCmd.AddCommand(
		definitionListCmd,
		definitionShowCmd,
		definitionAddCmd,
		definitionUpdateCmd,
		definitionRemoveCmd,
		definitionExportCmd,
		definitionImportCmd,
	)
	rootCmd.AddCommand(definitionCmd)
}
