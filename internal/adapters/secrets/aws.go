package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"go.uber.org/zap"
)

// AWSConfig contains configuration for the AWS Secrets Manager backend
type AWSConfig struct {
	Region string
	// Profile selects a shared config profile for local development
	Profile string
	// Endpoint overrides the service endpoint, e.g. LocalStack
	Endpoint string
}

// AWSStore reads secrets from AWS Secrets Manager
type AWSStore struct {
	client *secretsmanager.Client
	logger *zap.Logger
}

// NewAWSStore loads the default credential chain and creates a client
func NewAWSStore(ctx context.Context, cfg AWSConfig, logger *zap.Logger) (*AWSStore, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*secretsmanager.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	logger.Info("AWS Secrets Manager store initialized", zap.String("region", cfg.Region))
	return &AWSStore{client: secretsmanager.NewFromConfig(awsConfig, clientOpts...), logger: logger}, nil
}

// GetSecret reads the current version of a secret by name or ARN
func (s *AWSStore) GetSecret(ctx context.Context, path string) (*Secret, error) {
	start := time.Now()
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(path)})
	if err != nil {
		var notFound *smtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		s.logger.Error("failed to read secret from AWS",
			zap.String("path", path),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get secret %s: %w", path, err)
	}

	secret := &Secret{
		Value:    aws.ToString(out.SecretString),
		Version:  aws.ToString(out.VersionId),
		Metadata: make(map[string]string),
	}
	if out.CreatedDate != nil {
		secret.CreatedAt = out.CreatedDate.Format(time.RFC3339)
	}
	if out.ARN != nil {
		secret.Metadata["arn"] = *out.ARN
	}

	s.logger.Debug("secret read from AWS",
		zap.String("path", path),
		zap.Duration("elapsed", time.Since(start)))
	return secret, nil
}
