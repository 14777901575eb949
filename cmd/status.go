package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/humanitec/oidc-role-manager/internal/cloud"
	"github.com/humanitec/oidc-role-manager/internal/engine"
	"github.com/humanitec/oidc-role-manager/internal/message"
	"github.com/humanitec/oidc-role-manager/internal/render"
	"github.com/humanitec/oidc-role-manager/internal/session"
)

var liveStatus bool

type statusOutput struct {
	Status    string               `json:"status" yaml:"status"`
	AccountID string               `json:"accountId" yaml:"accountId"`
	Stack     *engine.StackInfo    `json:"stack" yaml:"stack"`
	LastRun   *session.StackRecord `json:"lastRun,omitempty" yaml:"lastRun,omitempty"`
	Live      []cloud.RoleStatus   `json:"live,omitempty" yaml:"live,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show deployment status and outputs of an AWS account",
	Long:  `It shows the state of the account stack, its outputs and the last recorded run. With --live it also compares the deployed roles with their definitions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		accountID, err := requireAccountID()
		if err != nil {
			return err
		}

		eng, err := newEngine()
		if err != nil {
			return fmt.Errorf("failed to initialize engine: %w", err)
		}
		stack := eng.Stack(accountID)

		info, err := eng.Info(ctx, stack)
		if err != nil {
			return err
		}
		if !info.Exists {
			message.Info("No resources deployed for account %s", accountID)
			return fmt.Errorf("%w: %s", engine.ErrStackNotFound, stack.Name)
		}

		out := statusOutput{Status: "found", AccountID: accountID, Stack: info}
		record, ok, err := sessionStore().Get(stack.Name)
		if err != nil {
			message.Warning("Failed to read run history: %v", err)
		} else if ok {
			out.LastRun = &record
		}

		var liveTable *render.Table
		if liveStatus {
			out.Live, liveTable, err = liveRoleStatus(cmd, accountID)
			if err != nil {
				return err
			}
		}

		p := printer(cmd)
		if err := p.KeyValues(statusPairs(out)); err != nil {
			return err
		}
		if len(info.Outputs) > 0 {
			if err := p.Table(outputsTable(info.Outputs)); err != nil {
				return err
			}
		} else {
			message.Info("No outputs available")
		}
		if liveTable != nil {
			if err := p.Table(liveTable); err != nil {
				return err
			}
		}
		return p.Document(out)
	},
}

func statusPairs(out statusOutput) [][2]string {
	lastUpdate := "unknown"
	if out.Stack.LastUpdate != nil {
		lastUpdate = out.Stack.LastUpdate.Format(time.RFC3339)
	}
	pairs := [][2]string{
		{"Stack", out.Stack.Stack.Name},
		{"Account", out.AccountID},
		{"Resources", fmt.Sprint(out.Stack.Resources)},
		{"Last update", lastUpdate},
	}
	if out.LastRun != nil {
		pairs = append(pairs,
			[2]string{"Last run", fmt.Sprintf("%s %s (%s)", out.LastRun.Operation, out.LastRun.Result, out.LastRun.RunID)},
		)
	}
	return pairs
}

// liveRoleStatus compares every valid role of the account with IAM.
func liveRoleStatus(cmd *cobra.Command, accountID string) ([]cloud.RoleStatus, *render.Table, error) {
	ctx := cmd.Context()

	requests, _, err := accountRequests(accountID, "")
	if err != nil {
		return nil, nil, err
	}
	inspector, err := newInspector(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := inspector.EnsureAccount(ctx, accountID); err != nil {
		return nil, nil, err
	}

	table := render.NewTable("ROLE", "EXISTS", "TRUST", "MANAGED", "INLINE", "STATUS")
	statuses := make([]cloud.RoleStatus, 0, len(requests))
	for _, req := range requests {
		status, err := inspector.Inspect(ctx, req)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to inspect role %s: %w", req.RoleName, err)
		}
		statuses = append(statuses, *status)

		state := render.Good("in sync")
		if !status.Exists {
			state = render.Bad("missing")
		} else if !status.InSync() {
			state = render.Warn("drifted")
		}
		table.AddRow(
			render.Plain(req.RoleName),
			render.Plain(fmt.Sprint(status.Exists)),
			render.Plain(fmt.Sprint(status.TrustMatches)),
			render.Plain(fmt.Sprintf("-%d +%d", len(status.MissingManaged), len(status.UnexpectedManaged))),
			render.Plain(fmt.Sprintf("-%d +%d", len(status.MissingInline), len(status.UnexpectedInline))),
			state,
		)
	}
	return statuses, table, nil
}

func init() {
	statusCmd.Flags().String("account-id", "", "target AWS account id (env: AWS_ACCOUNT_ID)")
	statusCmd.Flags().BoolVar(&liveStatus, "live", false, "compare the deployed roles with their definitions")
	rootCmd.AddCommand(statusCmd)
}
