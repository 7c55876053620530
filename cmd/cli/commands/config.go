package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moltbunker/solverbond/internal/config"
)

// NewConfigCmd creates the config command group
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long: `Create and check the daemon configuration file.

Examples:
  solverbond config init --owner 0x... --arbitrator 0x...
  solverbond config validate`,
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigValidateCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		owner      string
		arbitrator string
		treasury   string
		mode       string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := GetConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.DefaultConfig()
			cfg.Chain.Owner = owner
			cfg.Chain.Arbitrator = arbitrator
			cfg.Chain.Treasury = treasury
			if mode != "" {
				cfg.Policy.DisputeMode = mode
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Contract owner address (required)")
	cmd.Flags().StringVar(&arbitrator, "arbitrator", "", "Arbitrator address (required)")
	cmd.Flags().StringVar(&treasury, "treasury", "", "Treasury address")
	cmd.Flags().StringVar(&mode, "dispute-mode", "", "Dispute module: arbitration or optimistic")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("arbitrator")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Check a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := GetConfigPath()
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("config file: %w", err)
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid (chain %d, %s disputes)\n",
				path, cfg.Chain.ChainID, cfg.Policy.DisputeMode)
			return nil
		},
	}
}
