package kberr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesKindSeverityRetryable(t *testing.T) {
	err := New(CodeQueueFull, "queue is full", nil)

	assert.Equal(t, KindQueueFull, err.Kind)
	assert.Equal(t, SeverityError, err.Severity)
	assert.True(t, err.Retryable)

	err = New(CodeConfigInvalid, "bad yaml", nil)
	assert.Equal(t, KindConfigInvalid, err.Kind)
	assert.Equal(t, SeverityFatal, err.Severity)
	assert.False(t, err.Retryable)

	err = New(CodeSourceCorrupt, "empty payload", nil)
	assert.Equal(t, KindSourceUnreadable, err.Kind)
	assert.Equal(t, SeverityWarning, err.Severity)
}

func TestWrap_PreservesChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeQueueUnavailable, cause)

	require.NotNil(t, err)
	assert.Equal(t, "connection refused", err.Message)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))

	assert.Nil(t, Wrap(CodeInternal, nil))
}

func TestWithDetailAndSuggestion_Chain(t *testing.T) {
	err := Newf(CodeIndexMissing, "index %s missing", "chunks_embedding_idx").
		WithDetail("index", "chunks_embedding_idx").
		WithSuggestion("CREATE INDEX ...")

	assert.Equal(t, "chunks_embedding_idx", err.Details["index"])
	assert.Equal(t, "CREATE INDEX ...", err.Suggestion)
	assert.Contains(t, err.Error(), "ERR_203_INDEX_MISSING")
}

func TestIs_MatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", Newf(CodeNotFound, "job gone"))

	assert.True(t, errors.Is(err, &Error{Code: CodeNotFound}))
	assert.False(t, errors.Is(err, &Error{Code: CodeQueueFull}))
}

func TestFromContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	err := FromContext(ctx.Err(), "embed")
	assert.Equal(t, CodeDeadlineExceeded, err.Code)
	assert.Equal(t, "deadline exceeded at embed", err.Message)

	err = FromContext(errors.New("whatever"), "fetch")
	assert.Equal(t, CodeInternal, err.Code)
}

func TestKindOf_And_CodeOf(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
	assert.Equal(t, KindDeadlineExceeded, KindOf(context.DeadlineExceeded))

	wrapped := fmt.Errorf("ctx: %w", Newf(CodeQueryEmpty, "empty"))
	assert.Equal(t, KindInvalidInput, KindOf(wrapped))
	assert.Equal(t, CodeQueryEmpty, CodeOf(wrapped))
}

func TestIsRetryable_PlainErrorsAreNot(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.True(t, IsRetryable(Newf(CodeSourceUnreachable, "503")))
	assert.False(t, IsRetryable(Newf(CodeSourceAuthDenied, "403")))
}

func TestHTTPStatus_Mapping(t *testing.T) {
	cases := []struct {
		code   string
		status int
	}{
		{CodeInvalidInput, http.StatusBadRequest},
		{CodeQueryEmpty, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeUpsertConflict, http.StatusConflict},
		{CodeDependencyUnavailable, http.StatusUnprocessableEntity},
		{CodeIndexMissing, http.StatusUnprocessableEntity},
		{CodeDependencyDegraded, http.StatusServiceUnavailable},
		{CodeQueueFull, http.StatusServiceUnavailable},
		{CodeDeadlineExceeded, http.StatusGatewayTimeout},
		{CodeInternal, http.StatusInternalServerError},
		{CodeEmbedderFailed, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, HTTPStatus(Newf(tc.code, "x")), "code %s", tc.code)
	}

	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
}
