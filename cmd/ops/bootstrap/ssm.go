package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SSMClient is the subset of the SSM API the bootstrap tool uses.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

const ssmOperationTimeout = 15 * time.Second

// SSMManager writes and reads parameters under /{env}/weatherbingo/.
type SSMManager struct {
	client SSMClient
	env    string
	logger *slog.Logger
}

// NewSSMManager creates an SSMManager.
func NewSSMManager(client SSMClient, env string, logger *slog.Logger) *SSMManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSMManager{client: client, env: env, logger: logger}
}

// SSMPath returns the absolute parameter path for a category/key such as
// "database/url".
func (m *SSMManager) SSMPath(categoryAndKey string) string {
	return fmt.Sprintf("/%s/weatherbingo/%s", m.env, categoryAndKey)
}

// ParameterExists probes path without decrypting it.
func (m *SSMManager) ParameterExists(ctx context.Context, path string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := m.client.GetParameter(opCtx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(false),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking SSM parameter %q: %w", path, err)
	}
	return true, nil
}

// GetParameterValue reads path, decrypting SecureStrings.
func (m *SSMManager) GetParameterValue(ctx context.Context, path string) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	out, err := m.client.GetParameter(opCtx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("reading SSM parameter %q: %w", path, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("SSM parameter %q has no value", path)
	}
	return aws.ToString(out.Parameter.Value), nil
}

// Put writes value at path. Secure values are stored as SecureString and
// never logged.
func (m *SSMManager) Put(ctx context.Context, path, value string, secure, overwrite bool) error {
	if path == "" {
		return errors.New("SSM parameter path must not be empty")
	}
	if value == "" {
		return fmt.Errorf("SSM parameter value must not be empty for path %q", path)
	}

	paramType := ssmtypes.ParameterTypeString
	if secure {
		paramType = ssmtypes.ParameterTypeSecureString
	}

	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := m.client.PutParameter(opCtx, &ssm.PutParameterInput{
		Name:      aws.String(path),
		Value:     aws.String(value),
		Type:      paramType,
		Overwrite: aws.Bool(overwrite),
	})
	if err != nil {
		var exists *ssmtypes.ParameterAlreadyExists
		if errors.As(err, &exists) {
			return fmt.Errorf("SSM parameter %q already exists: %w", path, err)
		}
		return fmt.Errorf("writing SSM parameter %q: %w", path, err)
	}

	if secure {
		m.logger.Info("SSM parameter written", "path", path, "type", string(paramType), "value_length", len(value))
	} else {
		m.logger.Info("SSM parameter written", "path", path, "type", string(paramType), "value", value)
	}
	return nil
}
