package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/humanitec/oidc-role-manager/internal/assemble"
	"github.com/humanitec/oidc-role-manager/internal/config"
	"github.com/humanitec/oidc-role-manager/internal/message"
	"github.com/humanitec/oidc-role-manager/internal/oidc"
	"github.com/humanitec/oidc-role-manager/internal/render"
	"github.com/humanitec/oidc-role-manager/internal/roles"
)

var tokenFile string

var errNoMatchingRole = errors.New("token cannot assume any role")

type tokenMatch struct {
	AccountID string           `json:"accountId" yaml:"accountId"`
	RoleName  string           `json:"roleName" yaml:"roleName"`
	Result    oidc.MatchResult `json:"result" yaml:"result"`
	Allowed   bool             `json:"allowed" yaml:"allowed"`
}

type checkTokenOutput struct {
	Claims  *oidc.Claims `json:"claims" yaml:"claims"`
	Expired bool         `json:"expired" yaml:"expired"`
	Roles   []tokenMatch `json:"roles" yaml:"roles"`
}

var checkTokenCmd = &cobra.Command{
	Use:   "check-token",
	Short: "Check which roles an OIDC token may assume",
	Long:  `It reads an OIDC ID token, such as the one of a GitHub Actions job, and evaluates it against the trust policy of every valid role. The token signature is not verified.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenFile == "" {
			return fmt.Errorf("%w: --token-file is required", config.ErrInvalidConfig)
		}
		claims, err := oidc.ReadTokenFile(tokenFile)
		if err != nil {
			return err
		}

		out := checkTokenOutput{Claims: claims, Expired: claims.Expired(time.Now()), Roles: []tokenMatch{}}
		if out.Expired {
			message.Warning("Token expired at %s", claims.ExpiresAt.Format(time.RFC3339))
		}

		report, err := loadReport(roles.Filter{AccountID: cfg.AccountID, RoleName: cfg.RoleName})
		if err != nil {
			return err
		}
		if !report.Valid() {
			message.Warning("Invalid role configurations are skipped, run validate for details")
		}

		table := render.NewTable("ACCOUNT", "ROLE", "ISSUER", "SUBJECT", "AUDIENCE", "ALLOWED")
		allowed := 0
		for _, req := range assemble.AssembleAll(report.Specs()) {
			result := oidc.Match(*claims, req.Trust)
			match := tokenMatch{AccountID: req.AccountID, RoleName: req.RoleName, Result: result, Allowed: result.Allowed()}
			out.Roles = append(out.Roles, match)

			verdict := render.Bad("no")
			if match.Allowed {
				verdict = render.Good("yes")
				allowed++
			}
			table.AddRow(render.Plain(req.AccountID), render.Plain(req.RoleName), mark(result.Issuer), mark(result.Subject), mark(result.Audience), verdict)
		}

		p := printer(cmd)
		if err := p.KeyValues([][2]string{
			{"Issuer", claims.Issuer},
			{"Subject", claims.Subject},
			{"Audience", fmt.Sprint(claims.Audience)},
		}); err != nil {
			return err
		}
		if err := p.Table(table); err != nil {
			return err
		}
		if err := p.Document(out); err != nil {
			return err
		}

		if allowed == 0 {
			return errNoMatchingRole
		}
		message.Success("Token may assume %d role(s)", allowed)
		return nil
	},
}

func mark(ok bool) render.Cell {
	if ok {
		return render.Good("match")
	}
	return render.Bad("mismatch")
}

func init() {
	checkTokenCmd.Flags().StringVar(&tokenFile, "token-file", "", "file holding the OIDC ID token")
	checkTokenCmd.Flags().String("account-id", "", "only check roles of this AWS account (env: AWS_ACCOUNT_ID)")
	checkTokenCmd.Flags().String("role-name", "", "only check this role directory (env: OIDC_ROLE_NAME)")
	rootCmd.AddCommand(checkTokenCmd)
}
