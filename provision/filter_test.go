package provision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capstan-ci/capstan/cloud"
)

func TestFilterAvailableNarrows(t *testing.T) {
	provider := &mockProvider{
		listFunc: func(ctx context.Context) (cloud.Availability, error) {
			return cloud.Availability{
				"a100": {"us-west"},
				"h100": {"us-east", "us-west"},
			}, nil
		},
	}

	options := FilterAvailable(context.Background(), provider, []string{"a100", "h100"}, []string{"us-east", "us-west"}, testLogger())

	assert.Equal(t, []cloud.ResourceOption{
		{Class: "a100", Region: "us-west"},
		{Class: "h100", Region: "us-east"},
		{Class: "h100", Region: "us-west"},
	}, options)
}

func TestFilterAvailableSkipsEmptyClasses(t *testing.T) {
	provider := &mockProvider{
		listFunc: func(ctx context.Context) (cloud.Availability, error) {
			return cloud.Availability{"h100": {"us-east"}}, nil
		},
	}

	options := FilterAvailable(context.Background(), provider, []string{"a100", "h100"}, []string{"us-east"}, testLogger())

	assert.Equal(t, []cloud.ResourceOption{{Class: "h100", Region: "us-east"}}, options)
}

func TestFilterAvailableQueryFailureFallsBack(t *testing.T) {
	provider := &mockProvider{
		listFunc: func(ctx context.Context) (cloud.Availability, error) {
			return nil, errors.New("availability endpoint down")
		},
	}

	options := FilterAvailable(context.Background(), provider, []string{"a100"}, []string{"us-east", "us-west"}, testLogger())

	// A failed query is advisory: the full cross-product survives.
	assert.Equal(t, Candidates([]string{"a100"}, []string{"us-east", "us-west"}), options)
}

func TestFilterAvailableNothingAvailable(t *testing.T) {
	provider := &mockProvider{
		listFunc: func(ctx context.Context) (cloud.Availability, error) {
			return cloud.Availability{}, nil
		},
	}

	options := FilterAvailable(context.Background(), provider, []string{"a100"}, []string{"us-east"}, testLogger())
	assert.Empty(t, options)
}
