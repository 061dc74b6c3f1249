package dynamo

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/eternisai/doorbell-dispatch/internal/config"
)

// NewStoreFromEnv builds a Store on a DynamoDB client configured from the
// standard AWS environment (region, credentials chain).
func NewStoreFromEnv(ctx context.Context, tables config.Tables) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewStore(dynamodb.NewFromConfig(awsCfg), tables), nil
}
