package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

// VaultConfig contains configuration for the HashiCorp Vault backend
type VaultConfig struct {
	// Address of the Vault server, e.g. https://vault.example.com:8200
	Address string
	// AuthMethod is "token" or "approle"
	AuthMethod string
	Token      string
	RoleID     string
	SecretID   string
	// Namespace for Vault Enterprise
	Namespace string
	// MountPath of the KV engine (default "secret")
	MountPath string
	// KVVersion is "v1" or "v2" (default "v2")
	KVVersion     string
	TLSSkipVerify bool
}

// VaultStore reads secrets from a Vault KV engine
type VaultStore struct {
	client *vault.Client
	cfg    VaultConfig
	logger *zap.Logger
}

// NewVaultStore creates a Vault client and authenticates it
func NewVaultStore(ctx context.Context, cfg VaultConfig, logger *zap.Logger) (*VaultStore, error) {
	if cfg.AuthMethod == "" {
		cfg.AuthMethod = "token"
	}
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	if cfg.KVVersion == "" {
		cfg.KVVersion = "v2"
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address
	if cfg.TLSSkipVerify {
		if err := vaultConfig.ConfigureTLS(&vault.TLSConfig{Insecure: true}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}
	if err := authenticateVault(ctx, client, cfg); err != nil {
		return nil, fmt.Errorf("failed to authenticate with Vault: %w", err)
	}

	logger.Info("Vault secret store initialized",
		zap.String("address", cfg.Address),
		zap.String("auth_method", cfg.AuthMethod),
		zap.String("mount_path", cfg.MountPath),
		zap.String("kv_version", cfg.KVVersion))

	return &VaultStore{client: client, cfg: cfg, logger: logger}, nil
}

func authenticateVault(ctx context.Context, client *vault.Client, cfg VaultConfig) error {
	switch cfg.AuthMethod {
	case "token":
		if cfg.Token == "" {
			return fmt.Errorf("token is required for token auth")
		}
		client.SetToken(cfg.Token)
		return nil

	case "approle":
		if cfg.RoleID == "" || cfg.SecretID == "" {
			return fmt.Errorf("role_id and secret_id are required for AppRole auth")
		}
		resp, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
		if err != nil {
			return fmt.Errorf("AppRole login failed: %w", err)
		}
		if resp == nil || resp.Auth == nil {
			return fmt.Errorf("AppRole login returned no auth info")
		}
		client.SetToken(resp.Auth.ClientToken)
		return nil
	}
	return fmt.Errorf("unsupported auth method: %s", cfg.AuthMethod)
}

// GetSecret reads path from the KV engine. The value is taken from the
// "value" key; other string keys become metadata.
func (s *VaultStore) GetSecret(ctx context.Context, path string) (*Secret, error) {
	fullPath := s.cfg.MountPath + "/" + path
	if s.cfg.KVVersion == "v2" {
		fullPath = s.cfg.MountPath + "/data/" + path
	}

	start := time.Now()
	resp, err := s.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		s.logger.Error("failed to read secret from Vault",
			zap.String("path", path),
			zap.Error(err))
		return nil, fmt.Errorf("failed to read secret from Vault: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	data := resp.Data
	secret := &Secret{Version: "1", Metadata: make(map[string]string)}
	if s.cfg.KVVersion == "v2" {
		inner, ok := resp.Data["data"].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("invalid secret format from Vault at %s", path)
		}
		data = inner
		if meta, ok := resp.Data["metadata"].(map[string]interface{}); ok {
			if v, ok := meta["version"].(json.Number); ok {
				secret.Version = v.String()
			}
			if ct, ok := meta["created_time"].(string); ok {
				secret.CreatedAt = ct
			}
		}
	}

	for k, v := range data {
		str, ok := v.(string)
		if !ok {
			continue
		}
		if k == "value" {
			secret.Value = str
		} else {
			secret.Metadata[k] = str
		}
	}
	if secret.Value == "" {
		return nil, fmt.Errorf("secret %s has no value key", path)
	}

	s.logger.Debug("secret read from Vault",
		zap.String("path", path),
		zap.String("version", secret.Version),
		zap.Duration("elapsed", time.Since(start)))
	return secret, nil
}
