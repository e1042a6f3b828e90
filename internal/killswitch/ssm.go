package killswitch

import (
	"context"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/windowguard/internal/xerrors"
)

// ParameterAPI is the subset of the SSM client the watcher uses.
type ParameterAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMSource reads the kill switch state from one SSM parameter.
type SSMSource struct {
	client ParameterAPI
	name   string
}

// NewSSMSource wraps an existing client. Tests pass a fake.
func NewSSMSource(client ParameterAPI, name string) *SSMSource {
	return &SSMSource{client: client, name: name}
}

// LoadSSMSource builds the SSM client from the default AWS config chain.
func LoadSSMSource(ctx context.Context, name string) (*SSMSource, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "load AWS config")
	}
	return NewSSMSource(ssm.NewFromConfig(awsCfg), name), nil
}

func (s *SSMSource) Name() string { return s.name }

// Fetch returns true when the parameter says limits are disabled.
// Accepted values are the ones strconv.ParseBool understands.
func (s *SSMSource) Fetch(ctx context.Context) (bool, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return false, xerrors.Wrapf(err, "get SSM parameter %s", s.name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return false, xerrors.Newf("SSM parameter %s has no value", s.name)
	}
	raw := strings.TrimSpace(*out.Parameter.Value)
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, xerrors.Newf("SSM parameter %s: invalid boolean %q", s.name, raw)
	}
	return v, nil
}
