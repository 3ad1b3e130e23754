package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/funmagic-ai/magiworld-sub000/internal/svcerr"
)

func TestGetCredentials_Success(t *testing.T) {
	r := NewRegistry(time.Hour, func(context.Context) (map[string]Entry, error) {
		return map[string]Entry{
			"openai": {Slug: "openai", IsActive: true, Credentials: Credentials{APIKey: "sk-test"}},
		}, nil
	})
	creds, err := r.GetCredentials(context.Background(), "openai")
	require.NoError(t, err)
	require.Equal(t, "sk-test", creds.APIKey)
}

func TestGetCredentials_UnknownSlug(t *testing.T) {
	r := NewRegistry(time.Hour, func(context.Context) (map[string]Entry, error) {
		return map[string]Entry{}, nil
	})
	_, err := r.GetCredentials(context.Background(), "openai")
	require.Error(t, err)
	var se *svcerr.ServiceError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "ProviderNotFound", se.ErrorCode)
}

func TestGetCredentials_Inactive(t *testing.T) {
	r := NewRegistry(time.Hour, func(context.Context) (map[string]Entry, error) {
		return map[string]Entry{"openai": {Slug: "openai", IsActive: false, Credentials: Credentials{APIKey: "sk-test"}}}, nil
	})
	_, err := r.GetCredentials(context.Background(), "openai")
	require.Error(t, err)
	var se *svcerr.ServiceError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "ProviderNotFound", se.ErrorCode)
}

func TestGetCredentials_NoCredentials(t *testing.T) {
	r := NewRegistry(time.Hour, func(context.Context) (map[string]Entry, error) {
		return map[string]Entry{"openai": {Slug: "openai", IsActive: true}}, nil
	})
	_, err := r.GetCredentials(context.Background(), "openai")
	require.Error(t, err)
	var se *svcerr.ServiceError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "ProviderNoApiKey", se.ErrorCode)
}

func TestGetCredentials_RegionOnlyIsSufficient(t *testing.T) {
	// Bedrock entries carry only a region (AWS default credential chain
	// resolves the actual keys), not an APIKey/AccessKeyID.
	r := NewRegistry(time.Hour, func(context.Context) (map[string]Entry, error) {
		return map[string]Entry{"bedrock": {Slug: "bedrock", IsActive: true, Credentials: Credentials{Region: "us-east-1"}}}, nil
	})
	creds, err := r.GetCredentials(context.Background(), "bedrock")
	require.NoError(t, err)
	require.Equal(t, "us-east-1", creds.Region)
}

func TestGetCredentials_ReloadsOnlyAfterTTL(t *testing.T) {
	calls := 0
	r := NewRegistry(time.Hour, func(context.Context) (map[string]Entry, error) {
		calls++
		return map[string]Entry{"openai": {Slug: "openai", IsActive: true, Credentials: Credentials{APIKey: "k"}}}, nil
	})
	for i := 0; i < 3; i++ {
		_, err := r.GetCredentials(context.Background(), "openai")
		require.NoError(t, err)
	}
	require.Equal(t, 1, calls)
}

func TestGetCredentials_ReloadError(t *testing.T) {
	r := NewRegistry(time.Hour, func(context.Context) (map[string]Entry, error) {
		return nil, errors.New("boom")
	})
	_, err := r.GetCredentials(context.Background(), "openai")
	require.Error(t, err)
}
