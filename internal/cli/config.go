package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/afterimage/internal/config"
)

func init() {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize configuration",
		Long:  "Prints the effective configuration with secrets redacted. With --init, writes the defaults.",
		Args:  cobra.NoArgs,
		RunE:  runConfig,
	}

	cmd.Flags().Bool("init", false, "Write the default config file")
	cmd.Flags().Bool("force", false, "Overwrite an existing config file with --init")

	RootCmd.AddCommand(cmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	initFlag, _ := cmd.Flags().GetBool("init")
	force, _ := cmd.Flags().GetBool("force")

	if initFlag {
		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		if err := config.WriteDefault(path, force); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	redacted := a.cfg.Redacted()
	if !textOutput() {
		return printJSON(cmd.OutOrStdout(), redacted)
	}
	out, err := redacted.YAML()
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}
