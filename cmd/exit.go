package cmd

import (
	"errors"

	"github.com/humanitec/oidc-role-manager/internal/cloud"
	"github.com/humanitec/oidc-role-manager/internal/config"
	"github.com/humanitec/oidc-role-manager/internal/engine"
	"github.com/humanitec/oidc-role-manager/internal/roles"
)

const (
	ExitSuccess         = 0
	ExitGeneralError    = 1
	ExitConfigError     = 2
	ExitValidationError = 3
	ExitAWSError        = 4
)

// exitCode maps an error to the process exit code. Configuration errors
// win over validation errors when both are present.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, roles.ErrConfigNotFound),
		errors.Is(err, roles.ErrSchema),
		errors.Is(err, engine.ErrStackNotFound),
		errors.Is(err, config.ErrInvalidConfig):
		return ExitConfigError
	case errors.Is(err, roles.ErrValidation),
		errors.Is(err, roles.ErrDuplicateRoleName):
		return ExitValidationError
	case errors.Is(err, cloud.ErrAccountMismatch),
		cloud.IsAPIError(err):
		return ExitAWSError
	}
	return ExitGeneralError
}
