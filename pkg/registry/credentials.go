package registry

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ecr"
	"github.com/aws/aws-sdk-go/service/ecr/ecriface"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
)

// Registry Credentials
type creds struct {
	username, password string
	registry           string
}

func (c creds) String() string {
	if (creds{}) == c {
		return "<zero creds>"
	}
	return fmt.Sprintf("<registry creds for %s@%s>", c.username, c.registry)
}

func parseAuth(auth string) (creds, error) {
	decodedAuth, err := base64.StdEncoding.DecodeString(auth)
	if err != nil {
		return creds{}, err
	}
	authParts := strings.SplitN(string(decodedAuth), ":", 2)
	if len(authParts) != 2 {
		return creds{},
			fmt.Errorf("decoded credential has wrong number of fields (expected 2, got %d)", len(authParts))
	}
	return creds{
		username: authParts[0],
		password: authParts[1],
	}, nil
}

// ECRLogin logs the docker client in to ECR with a token from the
// ECR API.
type ECRLogin struct {
	Client      ecriface.ECRAPI
	RegistryIDs []string
	Runner      Runner
	Logger      log.Logger
}

var _ Authenticator = &ECRLogin{}

func (l *ECRLogin) Login(ctx context.Context) error {
	input := &ecr.GetAuthorizationTokenInput{}
	if len(l.RegistryIDs) > 0 {
		input.RegistryIds = aws.StringSlice(l.RegistryIDs)
	}
	token, err := l.Client.GetAuthorizationTokenWithContext(ctx, input)
	if err != nil {
		return errors.Wrap(err, "fetching ECR authorization token")
	}
	if len(token.AuthorizationData) == 0 {
		return errors.New("ECR returned no authorization data")
	}
	for _, v := range token.AuthorizationData {
		// Remove the https prefix
		host := strings.TrimPrefix(aws.StringValue(v.ProxyEndpoint), "https://")
		c, err := parseAuth(aws.StringValue(v.AuthorizationToken))
		if err != nil {
			return errors.Wrapf(err, "parsing ECR token for %s", host)
		}
		c.registry = host
		if _, err := l.Runner.Run(ctx, strings.NewReader(c.password), "docker", "login", "--username", c.username, "--password-stdin", host); err != nil {
			return errors.Wrapf(err, "docker login to %s", host)
		}
		l.Logger.Log("login", c, "expires", aws.TimeValue(v.ExpiresAt))
	}
	return nil
}
