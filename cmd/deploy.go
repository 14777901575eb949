package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/humanitec/oidc-role-manager/internal/engine"
	"github.com/humanitec/oidc-role-manager/internal/message"
	"github.com/humanitec/oidc-role-manager/internal/render"
	"github.com/humanitec/oidc-role-manager/internal/session"
)

var dryRun bool
var skipAccountCheck bool

type deployOutput struct {
	Status    string                `json:"status" yaml:"status"`
	Mode      string                `json:"deploymentMode" yaml:"deploymentMode"`
	AccountID string                `json:"accountId" yaml:"accountId"`
	Stack     string                `json:"stackName" yaml:"stackName"`
	RunID     string                `json:"runId,omitempty" yaml:"runId,omitempty"`
	Roles     []string              `json:"roles" yaml:"roles"`
	Changes   *engine.ChangeSummary `json:"changesSummary,omitempty" yaml:"changesSummary,omitempty"`
	Outputs   map[string]string     `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy OIDC roles to an AWS account",
	Long:  `It validates the roles of an account, renders them into the account stack and applies it with Terraform.`,
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

		message.Title("Deploying OIDC roles to account %s", accountID)
		message.Info("Roles directory: %s", cfg.RolesDir)
		message.Info("Stack: %s", stack.Name)
		if cfg.RoleName != "" {
			message.Info("Target role: %s", cfg.RoleName)
		}

		requests, targets, err := accountRequests(accountID, cfg.RoleName)
		if err != nil {
			return err
		}

		out := deployOutput{
			Status:    "success",
			Mode:      "deploy",
			AccountID: accountID,
			Stack:     stack.Name,
			Roles:     roleNames(requests),
		}
		p := printer(cmd)

		if len(requests) == 0 {
			message.Warning("No role configurations found for account %s", accountID)
			return p.Document(out)
		}

		if !skipAccountCheck {
			inspector, err := newInspector(ctx)
			if err != nil {
				return err
			}
			if err := inspector.EnsureAccount(ctx, accountID); err != nil {
				return err
			}
		}

		store := sessionStore()

		if dryRun {
			out.Mode = "preview"
			record := store.NewRecord(stack.Name, accountID, session.OperationPreview, out.Roles)
			out.RunID = record.RunID

			changes, err := eng.Preview(ctx, stack, requests, targets)
			if recordErr := store.Record(record, err); recordErr != nil {
				message.Warning("Failed to record run: %v", recordErr)
			}
			if err != nil {
				return err
			}
			out.Changes = changes

			if err := p.Table(changesTable(changes)); err != nil {
				return err
			}
			if err := p.Document(out); err != nil {
				return err
			}
			message.Success("Dry run preview completed. No changes were applied.")
			return nil
		}

		changes, err := eng.Preview(ctx, stack, requests, targets)
		if err != nil {
			return err
		}
		out.Changes = changes
		if err := p.Table(changesTable(changes)); err != nil {
			return err
		}

		if changes.Total() == 0 {
			message.Success("Stack %s is up to date", stack.Name)
		} else {
			message.Info("About to deploy %d role(s) to account %s", len(requests), accountID)
			for _, name := range out.Roles {
				message.Info("  - %s", name)
			}
			if err := confirm("Proceed with deployment?"); err != nil {
				if errors.Is(err, errCancelled) {
					message.Warning("Deployment cancelled by user")
					return nil
				}
				return err
			}
		}

		record := store.NewRecord(stack.Name, accountID, session.OperationDeploy, out.Roles)
		out.RunID = record.RunID

		outputs, err := eng.Deploy(ctx, stack, requests, targets)
		if recordErr := store.Record(record, err); recordErr != nil {
			message.Warning("Failed to record run: %v", recordErr)
		}
		if err != nil {
			return err
		}
		out.Outputs = outputs

		message.Success("Deployed %d role(s) to account %s", len(requests), accountID)
		if len(outputs) > 0 {
			if err := p.Table(outputsTable(outputs)); err != nil {
				return err
			}
		}
		return p.Document(out)
	},
}

func changesTable(changes *engine.ChangeSummary) *render.Table {
	table := render.NewTable("CREATE", "UPDATE", "REPLACE", "DELETE", "UNCHANGED")
	table.AddRow(
		render.Good(fmt.Sprint(changes.Create)),
		render.Warn(fmt.Sprint(changes.Update)),
		render.Warn(fmt.Sprint(changes.Replace)),
		render.Bad(fmt.Sprint(changes.Delete)),
		render.Plain(fmt.Sprint(changes.Same)),
	)
	return table
}

func init() {
	deployCmd.Flags().String("account-id", "", "target AWS account id (env: AWS_ACCOUNT_ID)")
	deployCmd.Flags().String("role-name", "", "only deploy this role directory (env: OIDC_ROLE_NAME)")
	deployCmd.Flags().Bool("auto-approve", false, "deploy without confirmation (env: OIDC_AUTO_APPROVE)")
	deployCmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview changes without applying them")
	deployCmd.Flags().BoolVar(&skipAccountCheck, "skip-account-check", false, "do not check that the credentials belong to the target account")
	rootCmd.AddCommand(deployCmd)
}
