package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/humanitec/oidc-role-manager/internal/assemble"
	"github.com/humanitec/oidc-role-manager/internal/cloud"
	"github.com/humanitec/oidc-role-manager/internal/config"
	"github.com/humanitec/oidc-role-manager/internal/engine"
	"github.com/humanitec/oidc-role-manager/internal/message"
	"github.com/humanitec/oidc-role-manager/internal/render"
	"github.com/humanitec/oidc-role-manager/internal/roles"
	"github.com/humanitec/oidc-role-manager/internal/session"
	"github.com/humanitec/oidc-role-manager/internal/validate"
)

var errCancelled = errors.New("cancelled by user")

func printer(cmd *cobra.Command) *render.Printer {
	return render.New(cmd.OutOrStdout(), cfg.Output)
}

func requireAccountID() (string, error) {
	if cfg.AccountID == "" {
		return "", fmt.Errorf("%w: --account-id is required", config.ErrInvalidConfig)
	}
	return cfg.AccountID, nil
}

// loadReport discovers and validates the role tree selected by filter.
func loadReport(filter roles.Filter) (*validate.Report, error) {
	message.Debug("Discovering role configurations in %s", cfg.RolesDir)
	tree, err := roles.Discover(cfg.RolesDir, filter)
	if err != nil {
		return nil, err
	}
	message.Debug("Found %d role configuration(s)", tree.RoleCount())
	return validate.Validate(tree), nil
}

// accountRequests validates the roles of an account and assembles them.
// With a role directory, only that role must be valid and targets limits
// the engine to its resources. Otherwise every role must be valid.
func accountRequests(accountID, roleDir string) (requests []assemble.RoleRequest, targets []string, err error) {
	report, err := loadReport(roles.Filter{AccountID: accountID})
	if err != nil {
		return nil, nil, err
	}

	if roleDir == "" {
		if err := report.Err(); err != nil {
			logReport(report)
			return nil, nil, err
		}
		return assemble.AssembleAll(report.Specs()), nil, nil
	}

	selected, err := report.Find(accountID, roleDir)
	if err != nil {
		logReport(report)
		return nil, nil, err
	}
	if report.Err() != nil {
		message.Warning("Some roles of account %s are invalid and are left out of the configuration", accountID)
	}
	requests = assemble.AssembleAll(report.Specs())
	for _, req := range requests {
		if req.RoleName == selected.Spec.RoleName {
			targets = engine.Addresses(req)
		}
	}
	return requests, targets, nil
}

// logReport prints every failing role and duplicate role name.
func logReport(report *validate.Report) {
	for _, account := range report.Accounts {
		for _, role := range account.Roles {
			if role.Valid() {
				continue
			}
			message.Error("%v", role.Err)
			for _, v := range role.Violations {
				message.Error("  %s", v)
			}
		}
		for _, d := range account.Duplicates {
			message.Error("%s: %s", roles.KindDuplicateRoleName, d)
		}
	}
}

func roleNames(requests []assemble.RoleRequest) []string {
	names := make([]string, 0, len(requests))
	for _, req := range requests {
		names = append(names, req.RoleName)
	}
	sort.Strings(names)
	return names
}

// confirm asks before changing anything. Structured output never prompts.
func confirm(question string) error {
	if cfg.AutoApprove || cfg.Structured() {
		return nil
	}
	answer, err := message.BoolSelect(question)
	if err != nil {
		return fmt.Errorf("failed to get user input: %w", err)
	}
	if !answer {
		return errCancelled
	}
	return nil
}

func newEngine() (*engine.Engine, error) {
	return engine.New(engine.Options{
		StateDir:         cfg.StateDir,
		StackName:        cfg.StackName,
		Region:           cfg.Region,
		Profile:          cfg.Profile,
		TerraformVersion: cfg.TerraformVersion,
		TerraformPath:    cfg.TerraformPath,
		LockTimeout:      cfg.LockTimeout,
	})
}

func newInspector(ctx context.Context) (*cloud.Inspector, error) {
	awsConfig, err := cloud.LoadConfig(ctx, cfg.Profile, cfg.Region)
	if err != nil {
		return nil, err
	}
	return cloud.NewInspector(awsConfig), nil
}

func sessionStore() *session.Store {
	return session.NewStore(cfg.StateDir)
}

func outputsTable(outputs map[string]string) *render.Table {
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := render.NewTable("OUTPUT", "VALUE")
	for _, k := range keys {
		table.AddRow(render.Plain(k), render.Good(outputs[k]))
	}
	return table
}
