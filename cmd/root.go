package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/humanitec/oidc-role-manager/internal/config"
	"github.com/humanitec/oidc-role-manager/internal/message"
	"github.com/humanitec/oidc-role-manager/internal/render"
)

var cfgFile string
var silentMode bool
var verboseMode bool
var noEmoji bool
var noColor bool

// cfg is resolved before every command runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "oidc-role-manager",
	Short: "Manage AWS IAM roles trusted by OIDC providers",
	Long: `It reads role definitions from roles/{account-id}/{role-dir}/ and deploys them
as IAM roles trusted by an OIDC provider such as GitHub Actions.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		message.SetSilentMode(silentMode)
		message.SetVerboseMode(verboseMode)
		message.SetEmojiMode(!noEmoji && !noColor)
		message.SetColorMode(!noColor)
		render.SetColorMode(!noColor)

		loaded, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		cfg = loaded
		if cfg.File != "" {
			message.Debug("Using config file: %s", cfg.File)
		}
		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		message.Error("failed to execute command: %v", err)
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .oidc-role-manager.yaml in the working or home directory)")
	rootCmd.PersistentFlags().String("roles-dir", config.Defaults["roles-dir"].(string), "directory containing role definitions (env: OIDC_ROLES_DIR)")
	rootCmd.PersistentFlags().String("state-dir", config.Defaults["state-dir"].(string), "directory holding the Terraform stacks (env: OIDC_STATE_DIR)")
	rootCmd.PersistentFlags().String("stack-name", config.Defaults["stack-name"].(string), "base stack name, combined with the account id (env: OIDC_STACK_NAME)")
	rootCmd.PersistentFlags().String("aws-region", "", "AWS region (env: AWS_REGION)")
	rootCmd.PersistentFlags().String("aws-profile", "", "AWS profile (env: AWS_PROFILE)")
	rootCmd.PersistentFlags().String("terraform-version", config.Defaults["terraform-version"].(string), "Terraform version to install (env: OIDC_TERRAFORM_VERSION)")
	rootCmd.PersistentFlags().String("terraform-path", "", "use this Terraform binary instead of installing one (env: OIDC_TERRAFORM_PATH)")
	rootCmd.PersistentFlags().Duration("lock-timeout", config.Defaults["lock-timeout"].(time.Duration), "how long to wait for the stack lock (env: OIDC_LOCK_TIMEOUT)")
	rootCmd.PersistentFlags().StringP("output", "o", config.OutputText, "output format: text, json or yaml (env: OIDC_OUTPUT)")
	rootCmd.PersistentFlags().BoolVar(&silentMode, "silent", false, "silent mode (hides everything except prompt/failure messages)")
	rootCmd.PersistentFlags().BoolVar(&verboseMode, "verbose", false, "verbose output (show everything, overrides silent mode)")
	rootCmd.PersistentFlags().BoolVar(&noEmoji, "no-emoji", false, "disable emojis")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colors and emojis")
}
