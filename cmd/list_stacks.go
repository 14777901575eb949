package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/humanitec/oidc-role-manager/internal/engine"
	"github.com/humanitec/oidc-role-manager/internal/message"
	"github.com/humanitec/oidc-role-manager/internal/render"
	"github.com/humanitec/oidc-role-manager/internal/session"
)

type stackSummary struct {
	AccountID  string               `json:"accountId" yaml:"accountId"`
	Stack      string               `json:"stackName" yaml:"stackName"`
	Deployed   bool                 `json:"deployed" yaml:"deployed"`
	LastUpdate *time.Time           `json:"lastUpdate,omitempty" yaml:"lastUpdate,omitempty"`
	LastRun    *session.StackRecord `json:"lastRun,omitempty" yaml:"lastRun,omitempty"`
}

type listStacksOutput struct {
	Status        string         `json:"status" yaml:"status"`
	BaseStackName string         `json:"baseStackName" yaml:"baseStackName"`
	Total         int            `json:"totalStacks" yaml:"totalStacks"`
	Stacks        []stackSummary `json:"stacks" yaml:"stacks"`
}

var listStacksCmd = &cobra.Command{
	Use:   "list-stacks",
	Short: "List deployed stacks across accounts",
	Long:  `It lists every stack of the base stack name found in the state directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stacks, err := engine.ListStacks(cfg.StateDir, cfg.StackName)
		if err != nil {
			return err
		}

		state, err := sessionStore().Load()
		if err != nil {
			message.Warning("Failed to read run history: %v", err)
			state = &session.Session{}
		}

		out := listStacksOutput{Status: "success", BaseStackName: cfg.StackName, Stacks: []stackSummary{}}
		table := render.NewTable("ACCOUNT", "STACK", "RESOURCES", "LAST UPDATE", "LAST RUN")
		for _, stack := range stacks {
			summary := stackSummary{AccountID: stack.AccountID, Stack: stack.Name}
			if updated, err := stack.LastUpdate(); err == nil {
				summary.Deployed = true
				summary.LastUpdate = &updated
			}
			if record, ok := state.Stacks[stack.Name]; ok {
				summary.LastRun = &record
			}
			out.Stacks = append(out.Stacks, summary)

			deployed := render.Warn("empty")
			lastUpdate := "unknown"
			if summary.Deployed {
				deployed = render.Good("active")
				lastUpdate = summary.LastUpdate.Format("2006-01-02 15:04")
			}
			lastRun := render.Plain("-")
			if summary.LastRun != nil {
				text := string(summary.LastRun.Operation) + " " + string(summary.LastRun.Result)
				if summary.LastRun.Result == session.ResultFailed {
					lastRun = render.Bad(text)
				} else {
					lastRun = render.Plain(text)
				}
			}
			table.AddRow(render.Plain(stack.AccountID), render.Plain(stack.Name), deployed, render.Plain(lastUpdate), lastRun)
		}
		out.Total = len(out.Stacks)

		p := printer(cmd)
		if len(stacks) == 0 {
			message.Info("No stacks found with base name %q", cfg.StackName)
		} else {
			message.Info("Found %d stack(s)", len(stacks))
			if err := p.Table(table); err != nil {
				return err
			}
		}
		return p.Document(out)
	},
}

func init() {
	rootCmd.AddCommand(listStacksCmd)
}
