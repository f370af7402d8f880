package mainconfig

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	appconfig "github.com/wolfman30/chat-relay/internal/config"
)

// LoadAWSConfig builds the AWS SDK config used by the Bedrock provider. Static keys
// from the environment win over the default credential chain.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	return config.LoadDefaultConfig(ctx, loaders...)
}

// NewBedrockClient creates a Bedrock runtime client, pointed at AWS_ENDPOINT_OVERRIDE
// when one is set.
func NewBedrockClient(awsCfg aws.Config, cfg *appconfig.Config) *bedrockruntime.Client {
	return bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// ResolveAWSCredential retrieves credentials through the same chain the Bedrock client
// uses and returns the access key id. It fails when the chain yields no keys.
func ResolveAWSCredential(ctx context.Context, cfg *appconfig.Config, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Credentials == nil {
		return "", errors.New("no aws credential provider configured")
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("retrieve aws credentials: %w", err)
	}
	if !creds.HasKeys() {
		return "", errors.New("aws credential chain returned no keys")
	}
	return creds.AccessKeyID, nil
}
