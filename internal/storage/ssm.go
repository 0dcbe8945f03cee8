package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// groupParameterSuffix is the last path element of the group cache parameter.
const groupParameterSuffix = "contact-group"

// SSMAPI defines the SSM operations used by the group cache.
type SSMAPI interface {
	// GetParameter retrieves a parameter from SSM.
	GetParameter(
		ctx context.Context,
		params *ssm.GetParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.GetParameterOutput, error)

	// PutParameter stores a parameter in SSM.
	PutParameter(
		ctx context.Context,
		params *ssm.PutParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.PutParameterOutput, error)
}

// GroupCache caches each account's managed contact group resource name in
// SSM Parameter Store, at {prefix}/{accountID}/contact-group.
type GroupCache struct {
	// client is the SSM API client.
	client SSMAPI

	// prefix is the parameter path prefix, without a trailing slash.
	prefix string
}

// NewGroupCache creates a new SSM-backed group cache.
func NewGroupCache(client SSMAPI, prefix string) (*GroupCache, error) {
	if client == nil {
		return nil, errors.New("ssm client is required")
	}

	prefix = strings.TrimRight(prefix, "/")
	if !strings.HasPrefix(prefix, "/") {
		return nil, fmt.Errorf("parameter prefix must start with '/', got %q", prefix)
	}

	return &GroupCache{
		client: client,
		prefix: prefix,
	}, nil
}

// GroupResourceName returns the cached resource name, or empty if none is cached.
func (c *GroupCache) GroupResourceName(ctx context.Context, accountID string) (string, error) {
	if accountID == "" {
		return "", errors.New("account ID is required")
	}

	output, err := c.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(c.parameterName(accountID)),
	})
	if err != nil {
		// Parameter not found is not an error - nothing is cached yet.
		var notFoundErr *types.ParameterNotFound
		if errors.As(err, &notFoundErr) {
			return "", nil
		}
		return "", fmt.Errorf("getting parameter from SSM: %w", err)
	}

	if output.Parameter == nil || output.Parameter.Value == nil {
		return "", nil
	}

	return *output.Parameter.Value, nil
}

// SetGroupResourceName caches the resource name.
func (c *GroupCache) SetGroupResourceName(ctx context.Context, accountID string, resourceName string) error {
	if accountID == "" {
		return errors.New("account ID is required")
	}
	if resourceName == "" {
		return errors.New("resource name is required")
	}

	_, err := c.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(c.parameterName(accountID)),
		Overwrite: aws.Bool(true),
		Type:      types.ParameterTypeString,
		Value:     aws.String(resourceName),
	})
	if err != nil {
		return fmt.Errorf("putting parameter to SSM: %w", err)
	}

	return nil
}

func (c *GroupCache) parameterName(accountID string) string {
	return c.prefix + "/" + accountID + "/" + groupParameterSuffix
}
