package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/life2you_mini/bridgesync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or validate configuration files",
		Long: `Manage bridgesync configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file (including account ownership)

Examples:
  bridgesync config init --output config/config.yaml
  bridgesync config validate --config config/config.yaml`,
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a default configuration file",
		RunE:  runConfigInit,
	}
	initCmd.Flags().StringP("output", "o", defaultConfigPath, "输出文件路径")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		RunE:  runConfigValidate,
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	if err := config.SaveConfigToFile(config.GetDefaultConfig(), output); err != nil {
		return fmt.Errorf("保存配置失败: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Created default configuration: %s\n", output)
	fmt.Fprintln(out, "\nEdit the bridges section and run with:")
	fmt.Fprintf(out, "  bridgesync serve --config %s\n", output)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("配置无效: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration valid: %s\n", path)
	fmt.Fprintf(out, "  Store: %s\n", cfg.Store.Driver)
	fmt.Fprintf(out, "  Bridges: %d (expected accounts: %d)\n", len(cfg.Bridges), cfg.ExpectedTotal())
	for _, b := range cfg.Bridges {
		fmt.Fprintf(out, "    - %s [%s/%s] %d accounts\n", b.ID, b.Platform, b.Terminal.Type, len(b.Accounts))
	}
	return nil
}
