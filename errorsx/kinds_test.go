package errorsx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCarriesKind(t *testing.T) {
	err := New(NotFound, "knowledge base missing")
	assert.True(t, Is(err, NotFound))
	assert.False(t, Is(err, Conflict))
}

func TestWrapPreservesUnderlyingError(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, StoreUnavailable, "vector store dial failed")
	assert.True(t, Is(err, StoreUnavailable))
	assert.ErrorIs(t, err, cause)
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, NotFound, "unused"))
}

func TestRetryableOnlyForProviderTransient(t *testing.T) {
	assert.True(t, Retryable(New(ProviderTransient, "rate limited")))
	assert.False(t, Retryable(New(ProviderPermanent, "bad request")))
	assert.False(t, Retryable(New(NotFound, "missing")))
}

func TestNewfFormatsMessage(t *testing.T) {
	err := Newf(InvalidConfig, "dimension mismatch: want %d got %d", 1536, 768)
	assert.True(t, Is(err, InvalidConfig))
	assert.Contains(t, err.Error(), "1536")
}
