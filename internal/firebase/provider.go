package firebase

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"google.golang.org/api/option"

	"github.com/eternisai/doorbell-dispatch/internal/config"
	"github.com/eternisai/doorbell-dispatch/internal/logger"
	"github.com/eternisai/doorbell-dispatch/internal/notifications"
)

// Provider hands out Firebase clients, creating the app on first use.
// It is safe for concurrent use.
type Provider struct {
	projectID string
	creds     CredentialSource
	logger    *logger.Logger

	app       *Lazy[*firebase.App]
	messaging *Lazy[*messaging.Client]
	firestore *Lazy[*firestore.Client]
}

// NewProvider creates a Provider. projectID may be empty, in which case the
// project_id of the service account is used.
func NewProvider(projectID string, creds CredentialSource, logger *logger.Logger) *Provider {
	p := &Provider{
		projectID: projectID,
		creds:     creds,
		logger:    logger.WithComponent("firebase"),
	}
	p.app = NewLazy(p.newApp)
	p.messaging = NewLazy(func(ctx context.Context) (*messaging.Client, error) {
		app, err := p.app.Get(ctx)
		if err != nil {
			return nil, err
		}
		client, err := app.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get messaging client: %w", err)
		}
		return client, nil
	})
	p.firestore = NewLazy(func(ctx context.Context) (*firestore.Client, error) {
		app, err := p.app.Get(ctx)
		if err != nil {
			return nil, err
		}
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get Firestore client: %w", err)
		}
		return client, nil
	})
	return p
}

// NewProviderFromConfig picks the credential source from cfg. A Secrets
// Manager name takes precedence over inline JSON, which takes precedence
// over a credentials file.
func NewProviderFromConfig(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*Provider, error) {
	var creds CredentialSource
	switch {
	case cfg.FirebaseSecretName != "":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		creds = SecretCredentials{
			Client: secretsmanager.NewFromConfig(awsCfg),
			Name:   cfg.FirebaseSecretName,
		}
	case cfg.FirebaseCredJSON != "":
		creds = StaticCredentials(cfg.FirebaseCredJSON)
	case cfg.FirebaseCredFile != "":
		creds = FileCredentials(cfg.FirebaseCredFile)
	default:
		return nil, ErrNoCredentials
	}

	return NewProvider(cfg.FirebaseProjectID, creds, logger), nil
}

func (p *Provider) newApp(ctx context.Context) (*firebase.App, error) {
	credJSON, err := p.creds.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	projectID := p.projectID
	if projectID == "" {
		projectID, err = projectIDFromCredentials(credJSON)
		if err != nil {
			return nil, err
		}
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, option.WithCredentialsJSON(credJSON))
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	p.logger.Info("firebase app initialized", slog.String("project_id", projectID))
	return app, nil
}

// Messaging returns the FCM client.
func (p *Provider) Messaging(ctx context.Context) (*messaging.Client, error) {
	return p.messaging.Get(ctx)
}

// Firestore returns the Firestore client.
func (p *Provider) Firestore(ctx context.Context) (*firestore.Client, error) {
	return p.firestore.Get(ctx)
}

// MulticastClient adapts Messaging to notifications.ClientSource.
func (p *Provider) MulticastClient(ctx context.Context) (notifications.MulticastClient, error) {
	client, err := p.Messaging(ctx)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Close releases the Firestore client if one was created.
func (p *Provider) Close() error {
	if client, ok := p.firestore.Peek(); ok {
		return client.Close()
	}
	return nil
}
