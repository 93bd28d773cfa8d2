package s3

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"

	"github.com/deductiv/export-everything-sub000/internal/logging"
)

// InstanceRoleKey as the access key selects the instance's own role
// instead of static keys.
const InstanceRoleKey = "[EC2 ARN]"

// Config holds the S3 connection settings of a profile.
type Config struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	DefaultBucket string
}

// UsesInstanceRole reports whether credentials come from assuming the
// caller's role.
func (c Config) UsesInstanceRole() bool {
	return c.AccessKey == InstanceRoleKey
}

// NewClient builds an S3 client for cfg.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if !cfg.UsesInstanceRole() && cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	if cfg.UsesInstanceRole() {
		provider, err := assumeOwnRole(ctx, awsCfg)
		if err != nil {
			return nil, err
		}
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// assumeOwnRole looks up the role the process runs as and assumes it.
func assumeOwnRole(ctx context.Context, awsCfg aws.Config) (aws.CredentialsProvider, error) {
	client := sts.NewFromConfig(awsCfg)
	identity, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("get caller identity: %w", err)
	}
	roleARN, err := RoleFromCallerARN(aws.ToString(identity.Arn))
	if err != nil {
		return nil, err
	}

	logging.Debug("assuming instance role", zap.String("role_arn", roleARN))
	session := "AssumeRoleSession" + strconv.FormatInt(time.Now().UnixNano()%100000, 10)
	return stscreds.NewAssumeRoleProvider(client, roleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = session
	}), nil
}

var assumedRoleARN = regexp.MustCompile(`arn:aws:sts::(\d+):[^/]+/([^/]+)`)

// RoleFromCallerARN turns an assumed-role caller ARN
// (arn:aws:sts::<account>:assumed-role/<role>/<session>) into the IAM role
// ARN.
func RoleFromCallerARN(callerARN string) (string, error) {
	m := assumedRoleARN.FindStringSubmatch(callerARN)
	if m == nil {
		return "", fmt.Errorf("caller %q is not an assumed role", callerARN)
	}
	return "arn:aws:iam::" + m[1] + ":role/" + m[2], nil
}
