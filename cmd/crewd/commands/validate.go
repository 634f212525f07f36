package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"crew/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a config file without starting anything",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m := config.NewConfigManager(configPath(cmd))
		cfg, err := m.Parse()
		if err != nil {
			return err
		}
		if err := config.Validate(cfg, m.Dir()); err != nil {
			return err
		}
		defs, _ := cfg.WorkerDefs(m.Dir())
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d worker rows, %d handlers)\n", m.Path(), len(defs), len(cfg.Handlers))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
