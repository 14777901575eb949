package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/humanitec/oidc-role-manager/internal/message"
	"github.com/humanitec/oidc-role-manager/internal/oidc"
	"github.com/humanitec/oidc-role-manager/internal/render"
	"github.com/humanitec/oidc-role-manager/internal/roles"
	"github.com/humanitec/oidc-role-manager/internal/validate"
)

var checkProviders bool

var errProviderCheck = errors.New("OIDC provider check failed")

type roleValidation struct {
	AccountID  string            `json:"accountId" yaml:"accountId"`
	Dir        string            `json:"dir" yaml:"dir"`
	Path       string            `json:"path" yaml:"path"`
	RoleName   string            `json:"roleName,omitempty" yaml:"roleName,omitempty"`
	Valid      bool              `json:"valid" yaml:"valid"`
	Kind       roles.Kind        `json:"kind,omitempty" yaml:"kind,omitempty"`
	Error      string            `json:"error,omitempty" yaml:"error,omitempty"`
	Violations []roles.Violation `json:"violations,omitempty" yaml:"violations,omitempty"`
}

type providerCheck struct {
	URL   string `json:"url" yaml:"url"`
	OK    bool   `json:"ok" yaml:"ok"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

type validationOutput struct {
	Status     string            `json:"status" yaml:"status"`
	Root       string            `json:"root" yaml:"root"`
	Roles      []roleValidation  `json:"roles" yaml:"roles"`
	Duplicates []roles.Violation `json:"duplicates,omitempty" yaml:"duplicates,omitempty"`
	Providers  []providerCheck   `json:"providers,omitempty" yaml:"providers,omitempty"`
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate role configurations without deploying",
	Long:  `It discovers every role of the roles directory, or of one account or role, and reports all violations found.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		message.Title("Validating role configurations in %s", cfg.RolesDir)

		report, err := loadReport(roles.Filter{AccountID: cfg.AccountID, RoleName: cfg.RoleName})
		if err != nil {
			return err
		}
		if report.RoleCount() == 0 {
			return &roles.Error{Kind: roles.KindConfigNotFound, Path: cfg.RolesDir, Message: "no role configurations found"}
		}

		out := validationOutput{Status: "valid", Root: report.Root, Roles: []roleValidation{}}
		table := render.NewTable("ACCOUNT", "DIRECTORY", "ROLE", "STATUS")
		for _, account := range report.Accounts {
			out.Duplicates = append(out.Duplicates, account.Duplicates...)
			for _, role := range account.Roles {
				rv := roleValidation{
					AccountID:  account.AccountID,
					Dir:        role.Candidate.Dir,
					Path:       role.Candidate.Path,
					RoleName:   role.RoleName,
					Valid:      role.Valid(),
					Violations: role.Violations,
				}
				status := render.Good("valid")
				if !role.Valid() {
					rv.Kind, _ = roles.KindOf(role.Err)
					rv.Error = role.Err.Error()
					status = render.Bad(string(rv.Kind))
				}
				out.Roles = append(out.Roles, rv)
				table.AddRow(render.Plain(account.AccountID), render.Plain(role.Candidate.Dir), render.Plain(role.RoleName), status)
			}
		}

		validationErr := report.Err()
		if validationErr != nil {
			out.Status = "invalid"
			logReport(report)
		}

		var providerErr error
		if checkProviders {
			out.Providers, providerErr = checkOIDCProviders(cmd, report)
		}

		p := printer(cmd)
		if err := p.Table(table); err != nil {
			return err
		}
		if err := p.Document(out); err != nil {
			return err
		}

		if validationErr != nil {
			return validationErr
		}
		if providerErr != nil {
			return providerErr
		}
		message.Success("All %d role configuration(s) are valid", report.RoleCount())
		return nil
	},
}

// checkOIDCProviders fetches the discovery document of every provider
// referenced by a valid role.
func checkOIDCProviders(cmd *cobra.Command, report *validate.Report) ([]providerCheck, error) {
	client := oidc.NewClient(10 * time.Second)
	seen := map[string]bool{}
	var checks []providerCheck
	failed := 0
	for _, spec := range report.Specs() {
		issuer := oidc.IssuerURL(spec.OIDCProviderURL)
		if seen[issuer] {
			continue
		}
		seen[issuer] = true

		check := providerCheck{URL: spec.OIDCProviderURL, OK: true}
		if _, err := oidc.Discover(cmd.Context(), client, spec.OIDCProviderURL); err != nil {
			check.OK = false
			check.Error = err.Error()
			failed++
			message.Error("%v", err)
		} else {
			message.Success("OIDC provider %s is reachable", spec.OIDCProviderURL)
		}
		checks = append(checks, check)
	}
	if failed > 0 {
		return checks, fmt.Errorf("%w: %d provider(s) unreachable", errProviderCheck, failed)
	}
	return checks, nil
}

func init() {
	validateCmd.Flags().String("account-id", "", "only validate this AWS account (env: AWS_ACCOUNT_ID)")
	validateCmd.Flags().String("role-name", "", "only validate this role directory (env: OIDC_ROLE_NAME)")
	validateCmd.Flags().BoolVar(&checkProviders, "check-providers", false, "check that every OIDC provider serves a discovery document")
	rootCmd.AddCommand(validateCmd)
}
