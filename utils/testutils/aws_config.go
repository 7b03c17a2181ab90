package testutils

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/kelseyhightower/envconfig"
)

var (
	awsCfg     aws.Config
	awsCfgErr  error
	awsCfgOnce sync.Once
)

// AWSConfig is an object that we fill from the environment (AWSCONFIG_*).
type AWSConfig struct {
	Region    string `default:"us-east-1"`
	Endpoint  string `envconfig:"ENDPOINT"`
	AccessID  string `envconfig:"ACCESS_KEY_ID" default:"local"`
	SecretKey string `envconfig:"SECRET_ACCESS_KEY" default:"local"`
}

// AWSEndpointConfigured reports whether tests against a local AWS endpoint can run
func AWSEndpointConfigured() bool {
	var conf AWSConfig
	if err := envconfig.Process("AWSCONFIG", &conf); err != nil {
		return false
	}
	return conf.Endpoint != ""
}

// GetAWSConfigInstance is a quick way to retrieve an AWS config. Uses environment variables.
func GetAWSConfigInstance(ctx context.Context) (aws.Config, error) {
	awsCfgOnce.Do(func() {
		var conf AWSConfig
		if awsCfgErr = envconfig.Process("AWSCONFIG", &conf); awsCfgErr != nil {
			return
		}
		awsCfg, awsCfgErr = GetAWSConfig(ctx, conf)
	})
	return awsCfg, awsCfgErr
}

// GetAWSConfig builds an AWS config with static credentials, pointed at conf.Endpoint when set
func GetAWSConfig(ctx context.Context, conf AWSConfig) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(conf.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(conf.AccessID, conf.SecretKey, "")),
	}
	if conf.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: conf.Endpoint, SigningRegion: region}, nil
			})
		opts = append(opts, config.WithEndpointResolverWithOptions(resolver))
	}
	return config.LoadDefaultConfig(ctx, opts...)
}
