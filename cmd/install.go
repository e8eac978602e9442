package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"assurance/internal/autostart"

	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Start the watching daemon at login",
	RunE: func(cmd *cobra.Command, args []string) error {
		execPath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to locate executable: %w", err)
		}
		if execPath, err = filepath.EvalSymlinks(execPath); err != nil {
			return fmt.Errorf("failed to resolve executable: %w", err)
		}

		if err := autostart.New().Install(execPath); err != nil {
			return err
		}

		fmt.Println("installed, the daemon now starts at login")
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop starting the daemon at login",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := autostart.New()

		installed, err := svc.IsInstalled()
		if err != nil {
			return err
		}
		if !installed {
			fmt.Println("not installed")
			return nil
		}

		if err := svc.Uninstall(); err != nil {
			return err
		}

		fmt.Println("uninstalled")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(installCmd, uninstallCmd)
}
