package firebase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// ErrNoCredentials is returned when no credential source is configured.
var ErrNoCredentials = errors.New("no firebase credentials configured")

// CredentialSource yields a service account JSON document.
type CredentialSource interface {
	Credentials(ctx context.Context) ([]byte, error)
}

// StaticCredentials is service account JSON held in memory, e.g. from FIREBASE_CRED_JSON.
type StaticCredentials []byte

func (s StaticCredentials) Credentials(ctx context.Context) ([]byte, error) {
	if len(s) == 0 {
		return nil, ErrNoCredentials
	}
	return s, nil
}

// FileCredentials reads service account JSON from a path.
type FileCredentials string

func (f FileCredentials) Credentials(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	return data, nil
}

// SecretsAPI is the part of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretCredentials fetches service account JSON from AWS Secrets Manager.
type SecretCredentials struct {
	Client SecretsAPI
	Name   string
}

func (s SecretCredentials) Credentials(ctx context.Context) ([]byte, error) {
	out, err := s.Client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.Name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", s.Name, err)
	}

	switch {
	case out.SecretString != nil && *out.SecretString != "":
		return []byte(*out.SecretString), nil
	case len(out.SecretBinary) > 0:
		return out.SecretBinary, nil
	default:
		return nil, fmt.Errorf("secret %s is empty", s.Name)
	}
}

// projectIDFromCredentials extracts project_id from a service account document.
func projectIDFromCredentials(creds []byte) (string, error) {
	var doc struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(creds, &doc); err != nil {
		return "", fmt.Errorf("failed to parse service account: %w", err)
	}
	return doc.ProjectID, nil
}
