package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/humanitec/oidc-role-manager/internal/engine"
	"github.com/humanitec/oidc-role-manager/internal/message"
	"github.com/humanitec/oidc-role-manager/internal/session"
)

type destroyOutput struct {
	Status    string `json:"status" yaml:"status"`
	Message   string `json:"message" yaml:"message"`
	AccountID string `json:"accountId" yaml:"accountId"`
	Stack     string `json:"stackName" yaml:"stackName"`
}

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy all deployed OIDC roles of an AWS account",
	Long:  `It destroys every resource of the account stack. The role definitions are left untouched.`,
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
		if !stack.Exists() {
			message.Info("No resources deployed for account %s", accountID)
			return fmt.Errorf("%w: %s", engine.ErrStackNotFound, stack.Name)
		}

		message.Warning("About to destroy stack %s of account %s", stack.Name, accountID)
		message.Warning("This will delete all OIDC roles managed by this stack!")
		if err := confirm("Are you sure you want to proceed?"); err != nil {
			if errors.Is(err, errCancelled) {
				message.Warning("Destruction cancelled by user")
				return nil
			}
			return err
		}

		store := sessionStore()
		record := store.NewRecord(stack.Name, accountID, session.OperationDestroy, nil)
		if err := eng.Destroy(ctx, stack); err != nil {
			if recordErr := store.Record(record, err); recordErr != nil {
				message.Warning("Failed to record run: %v", recordErr)
			}
			return err
		}
		if err := store.Forget(stack.Name); err != nil {
			message.Warning("Failed to clear run history: %v", err)
		}

		message.Success("Stack %s destroyed, account %s resources removed", stack.Name, accountID)
		return printer(cmd).Document(destroyOutput{
			Status:    "success",
			Message:   "Stack destroyed successfully",
			AccountID: accountID,
			Stack:     stack.Name,
		})
	},
}

func init() {
	destroyCmd.Flags().String("account-id", "", "target AWS account id (env: AWS_ACCOUNT_ID)")
	destroyCmd.Flags().Bool("auto-approve", false, "destroy without confirmation (env: OIDC_AUTO_APPROVE)")
	rootCmd.AddCommand(destroyCmd)
}
