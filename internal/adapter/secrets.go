package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/coachdesk-api/internal/retry"
)

// SecretPrefix marks a config value as an SSM parameter name.
const SecretPrefix = "ssm:"

type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

func NewSSMClient(cfg aws.Config) *ssm.Client {
	return ssm.NewFromConfig(cfg, func(o *ssm.Options) {
		o.Retryer = aws.NopRetryer{}
	})
}

// ResolveSecrets replaces every "ssm:<name>" value in place with the
// decrypted parameter. Other values are left alone.
func ResolveSecrets(ctx context.Context, api SSMAPI, opts retry.Options, values ...*string) error {
	var errs []error
	for _, v := range values {
		if v == nil || !strings.HasPrefix(*v, SecretPrefix) {
			continue
		}
		name := strings.TrimPrefix(*v, SecretPrefix)
		o := opts
		o.Name = "ssm.get_parameter"

		secret, err := retry.Do(ctx, o, func(ctx context.Context) (string, error) {
			out, err := api.GetParameter(ctx, &ssm.GetParameterInput{
				Name:           aws.String(name),
				WithDecryption: aws.Bool(true),
			})
			if err != nil {
				return "", err
			}
			if out.Parameter == nil || out.Parameter.Value == nil {
				return "", fmt.Errorf("SSM parameter %s has no value", name)
			}
			return strings.TrimSpace(*out.Parameter.Value), nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve %s: %w", name, err))
			continue
		}
		*v = secret
	}
	return errors.Join(errs...)
}
