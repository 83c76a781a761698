package objectstore

import (
	"errors"
	"testing"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/Andrei-Masilevich/rocksdb-cloud/pkg/errors"
)

func TestPrefixKey(t *testing.T) {
	p := Prefix{Bucket: "b", Path: "db/main"}
	assert.Equal(t, "db/main/000123.sst", p.Key("000123.sst"))
	assert.Equal(t, "db/main/000123.sst", p.Key("/000123.sst"))

	root := Prefix{Bucket: "b"}
	assert.Equal(t, "000123.sst", root.Key("000123.sst"))
}

func TestTranslateError_NotFound(t *testing.T) {
	err := translateError(&s3types.NoSuchKey{}, "get", "k")
	require.Error(t, err)

	var cloudErr *pkgerrors.CloudError
	require.True(t, errors.As(err, &cloudErr))
	assert.Equal(t, pkgerrors.ErrCodeCloudNotFound, cloudErr.Code)
}

func TestTranslateError_NoSuchBucket(t *testing.T) {
	err := translateError(&s3types.NoSuchBucket{}, "list", "k")
	require.Error(t, err)

	var cloudErr *pkgerrors.CloudError
	require.True(t, errors.As(err, &cloudErr))
	assert.Equal(t, pkgerrors.ErrCodeCloudNotFound, cloudErr.Code)
}

func TestTranslateError_Nil(t *testing.T) {
	assert.NoError(t, translateError(nil, "get", "k"))
}

type httpStatusError struct{ status int }

func (e httpStatusError) Error() string      { return "http error" }
func (e httpStatusError) HTTPStatusCode() int { return e.status }

func TestTranslateError_ClientVsServer(t *testing.T) {
	clientErr := translateError(httpStatusError{status: 403}, "put", "k")
	var cloudErr *pkgerrors.CloudError
	require.True(t, errors.As(clientErr, &cloudErr))
	assert.Equal(t, pkgerrors.ErrCodeCloudPermanent, cloudErr.Code)

	serverErr := translateError(httpStatusError{status: 503}, "put", "k")
	require.True(t, errors.As(serverErr, &cloudErr))
	assert.Equal(t, pkgerrors.ErrCodeCloudTransient, cloudErr.Code)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 50, cfg.ListPageSize)
	assert.Equal(t, int64(10_000_000_000), cfg.RetryBudget.Nanoseconds())
	assert.Equal(t, int64(100_000_000), cfg.RetryDelay.Nanoseconds())
}
