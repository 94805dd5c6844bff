package cli

import (
	"github.com/spf13/cobra"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults are applied, as CUE that
--config accepts. Without --config this prints the defaults.

Examples:
  tandem config > tandem.cue
  tandem config --config tandem.cue`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				formatter := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
				return formatter.Success(cfg)
			}
			data, err := cfg.Format()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to format configuration", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
