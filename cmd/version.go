package cmd

import (
	"runtime"

	"github.com/spf13/cobra"
)

// Set with -ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

type versionOutput struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	GoVersion string `json:"goVersion" yaml:"goVersion"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := versionOutput{Version: Version, Commit: Commit, GoVersion: runtime.Version()}
		p := printer(cmd)
		if p.Structured() {
			return p.Document(out)
		}
		return p.KeyValues([][2]string{
			{"Version", out.Version},
			{"Commit", out.Commit},
			{"Go", out.GoVersion},
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
