package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/logging"

	"github.com/humanitec/oidc-role-manager/internal/message"
)

var ErrAccountMismatch = errors.New("credentials belong to a different account")

type awsLogger struct{}

func (a awsLogger) Logf(classification logging.Classification, format string, v ...interface{}) {
	if classification == logging.Debug {
		message.Debug("AWS SDK: "+format, v...)
	} else {
		message.Warning("AWS SDK: "+format, v...)
	}
}

// LoadConfig loads the shared AWS configuration for profile and region.
// Empty values fall back to the SDK defaults.
func LoadConfig(ctx context.Context, profile, region string) (aws.Config, error) {
	var logger awsLogger
	opts := []func(*config.LoadOptions) error{
		config.WithLogConfigurationWarnings(true),
		config.WithLogger(logger),
		config.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), 5)
		}),
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws default configuration, %w", err)
	}
	return cfg, nil
}

// NewInspector creates an Inspector backed by real IAM and STS clients.
func NewInspector(cfg aws.Config) *Inspector {
	return &Inspector{
		iam: iam.NewFromConfig(cfg),
		sts: sts.NewFromConfig(cfg),
	}
}

// CallerAccount returns the account id of the current credentials.
func (i *Inspector) CallerAccount(ctx context.Context) (string, error) {
	caller, err := i.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity, %w", err)
	}
	if caller == nil || caller.Account == nil {
		return "", fmt.Errorf("failed to get caller identity: caller or caller.Account is nil")
	}
	return *caller.Account, nil
}

// EnsureAccount fails when the current credentials are not for accountID.
func (i *Inspector) EnsureAccount(ctx context.Context, accountID string) error {
	account, err := i.CallerAccount(ctx)
	if err != nil {
		return err
	}
	if account != accountID {
		return fmt.Errorf("%w: expected %s, got %s", ErrAccountMismatch, accountID, account)
	}
	return nil
}

func isNoSuchEntity(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchEntity"
}

// IsAPIError reports whether err comes from an AWS API call.
func IsAPIError(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr)
}
