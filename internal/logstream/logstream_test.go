package logstream

import (
	"context"
	"errors"
	"testing"

	kinesistypes "github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/Andrei-Masilevich/rocksdb-cloud/pkg/errors"
)

func TestTranslateError_NotFound(t *testing.T) {
	err := translateError(&kinesistypes.ResourceNotFoundException{}, "append", "s")
	require.Error(t, err)

	var cloudErr *pkgerrors.CloudError
	require.True(t, errors.As(err, &cloudErr))
	assert.Equal(t, pkgerrors.ErrCodeCloudNotFound, cloudErr.Code)
}

func TestTranslateError_ExpiredIterator(t *testing.T) {
	err := translateError(&kinesistypes.ExpiredIteratorException{}, "get-records", "s")
	var cloudErr *pkgerrors.CloudError
	require.True(t, errors.As(err, &cloudErr))
	assert.Equal(t, pkgerrors.ErrCodeCloudCorruption, cloudErr.Code)
}

func TestTranslateError_ThroughputExceeded(t *testing.T) {
	err := translateError(&kinesistypes.ProvisionedThroughputExceededException{}, "append", "s")
	var cloudErr *pkgerrors.CloudError
	require.True(t, errors.As(err, &cloudErr))
	assert.Equal(t, pkgerrors.ErrCodeCloudTransient, cloudErr.Code)
}

func TestTranslateError_InvalidArgument(t *testing.T) {
	err := translateError(&kinesistypes.InvalidArgumentException{}, "create-stream", "s")
	var cloudErr *pkgerrors.CloudError
	require.True(t, errors.As(err, &cloudErr))
	assert.Equal(t, pkgerrors.ErrCodeCloudPermanent, cloudErr.Code)
}

func TestTranslateError_Nil(t *testing.T) {
	assert.NoError(t, translateError(nil, "append", "s"))
}

func TestAppend_RejectsOversizedRecord(t *testing.T) {
	a := &Adapter{}
	big := make([]byte, maxRecordBytes+1)

	_, err := a.Append(context.Background(), "stream", big)
	require.Error(t, err)

	var cloudErr *pkgerrors.CloudError
	require.True(t, errors.As(err, &cloudErr))
	assert.Equal(t, pkgerrors.ErrCodeCloudPermanent, cloudErr.Code)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, int64(10_000_000_000), cfg.RetryBudget.Nanoseconds())
	assert.Equal(t, int64(100_000_000), cfg.RetryDelay.Nanoseconds())
}
