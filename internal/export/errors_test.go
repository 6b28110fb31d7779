package export_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/airdash/airdash/internal/export"
)

func TestError_Kinds(t *testing.T) {
	timeout := export.NewError(export.KindTimeout, "download timed out")
	wrapped := fmt.Errorf("download: %w", timeout)

	assert.Equal(t, export.KindTimeout, export.KindOf(wrapped))
	assert.True(t, export.IsRetryable(wrapped))
	assert.False(t, export.IsCancelled(wrapped))
	assert.Equal(t, "download timed out", timeout.Error())

	cancelled := export.NewError(export.KindCancelled, "")
	assert.True(t, export.IsCancelled(cancelled))
	assert.False(t, export.IsRetryable(cancelled))
	assert.Equal(t, "cancelled", cancelled.Error())

	preview := export.WrapError(export.KindPreview, "preview failed", export.NewError(export.KindTransport, "502"))
	assert.True(t, export.IsRetryable(preview))

	assert.False(t, export.IsRetryable(export.NewError(export.KindUnsupportedFormat, "xlsx")))
	assert.Equal(t, export.Kind(""), export.KindOf(errors.New("plain")))
}
