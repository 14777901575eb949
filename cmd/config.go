package cmd

import (
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration",
	Long:  `It shows every setting after resolving flags, environment variables, the config file and the defaults.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := cfg.Settings()
		p := printer(cmd)
		if p.Structured() {
			return p.Document(settings)
		}
		pairs := make([][2]string, 0, len(settings))
		for _, s := range settings {
			pairs = append(pairs, [2]string{s.Key, s.Value})
		}
		return p.KeyValues(pairs)
	},
}

func init() {
	configCmd.Flags().String("account-id", "", "AWS account id (env: AWS_ACCOUNT_ID)")
	configCmd.Flags().String("role-name", "", "role directory (env: OIDC_ROLE_NAME)")
	configCmd.Flags().Bool("auto-approve", false, "skip confirmations (env: OIDC_AUTO_APPROVE)")
	rootCmd.AddCommand(configCmd)
}
