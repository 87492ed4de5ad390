package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreUnavailableMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("load comments: %w", StoreUnavailable(errors.New("quota exceeded"), "read comments"))

	assert.True(t, IsStoreUnavailable(err))
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, http.StatusServiceUnavailable, FromError(err).Status)
}

func TestCloneKeepsCode(t *testing.T) {
	clone := Clone(ErrNotFound, "task not found")
	assert.Equal(t, "task not found", clone.Message)
	assert.True(t, errors.Is(clone, ErrNotFound))
	assert.Equal(t, "resource not found", ErrNotFound.Message)
}

func TestFromErrorMalformed(t *testing.T) {
	err := &MalformedRecordError{Collection: "comments", Index: 3, Field: "taskId"}
	appErr := FromError(err)
	assert.Equal(t, ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "missing taskId")
}

func TestFromErrorUnknown(t *testing.T) {
	appErr := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Nil(t, FromError(nil))
}
