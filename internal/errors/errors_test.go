package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/slop-o-meter/internal/tree"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		category ErrorCategory
		status   int
		prefix   string
	}{
		{"validation", NewValidationError("bad impact", nil), CategoryValidation, http.StatusBadRequest, "[VALIDATION_ERROR] bad impact"},
		{"not found", NewNotFoundError("source", "abc"), CategoryNotFound, http.StatusNotFound, "[NOT_FOUND] source not found"},
		{"timeout", NewTimeoutError("slow", context.DeadlineExceeded), CategoryTimeout, http.StatusGatewayTimeout, "[TIMEOUT_ERROR] slow"},
		{"rate limit", NewRateLimitError("claim", 42), CategoryRateLimit, http.StatusTooManyRequests, "[RATE_LIMIT_EXCEEDED] Rate limit exceeded"},
		{"internal", NewInternalError("boom", errors.New("disk")), CategoryInternal, http.StatusInternalServerError, "[INTERNAL_ERROR] Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.err.Category)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
			assert.Equal(t, tt.prefix, tt.err.Error())
			assert.False(t, tt.err.Timestamp.IsZero())
		})
	}
}

func TestRateLimitErrorCarriesRetryAfter(t *testing.T) {
	err := NewRateLimitError("vote", 17)
	assert.Equal(t, 17, err.RetryAfter)
	assert.Equal(t, errbuilder.CodeResourceExhausted, err.ErrCode())
	assert.Equal(t, 17, err.Response()["retry_after"])
}

func TestToAppError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, ToAppError(nil))
	})

	t.Run("passes app errors through wrapping", func(t *testing.T) {
		orig := NewNotFoundError("claim", "x")
		got := ToAppError(fmt.Errorf("loading: %w", orig))
		assert.Same(t, orig, got)
	})

	t.Run("tree errors are validation errors", func(t *testing.T) {
		got := ToAppError(fmt.Errorf("%w: a, b", tree.ErrCycle))
		assert.Equal(t, CategoryValidation, got.Category)
		assert.ErrorIs(t, got, tree.ErrCycle)

		got = ToAppError(fmt.Errorf("%w: \"a\"", tree.ErrDuplicateID))
		assert.Equal(t, http.StatusBadRequest, got.HTTPStatus)
	})

	t.Run("not found sentinel", func(t *testing.T) {
		got := ToAppError(fmt.Errorf("source abc: %w", ErrNotFound))
		assert.Equal(t, http.StatusNotFound, got.HTTPStatus)
	})

	t.Run("context errors", func(t *testing.T) {
		assert.Equal(t, CategoryTimeout, ToAppError(context.Canceled).Category)
		assert.Equal(t, CategoryTimeout, ToAppError(context.DeadlineExceeded).Category)
	})

	t.Run("anything else is internal", func(t *testing.T) {
		got := ToAppError(errors.New("mystery"))
		assert.Equal(t, CategoryInternal, got.Category)
	})
}

func TestErrorHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/limited", func(c *gin.Context) {
		_ = c.Error(NewRateLimitError("flag", 9))
	})
	r.GET("/missing", func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("lookup: %w", ErrNotFound))
	})
	r.GET("/ok", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	t.Run("rate limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/limited", nil)
		req.Header.Set("X-Request-ID", "req-1")
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "9", w.Header().Get("Retry-After"))

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "rate_limit", body["category"])
		assert.Equal(t, "req-1", body["request_id"])
		assert.Equal(t, float64(9), body["retry_after"])
	})

	t.Run("not found", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("no error", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	})
}

func TestRecoveryHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RecoveryHandler())
	r.GET("/panic", func(c *gin.Context) {
		panic("kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal", body["category"])
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, "ignored"))

	err := WrapError(ErrNotFound, "source %s", "abc")
	assert.EqualError(t, err, "source abc: not found")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("source x: %w", ErrNotFound)))
	assert.True(t, IsNotFound(NewNotFoundError("claim", "c1")))
	assert.False(t, IsNotFound(NewValidationError("bad", nil)))
	assert.False(t, IsNotFound(errors.New("boom")))
}
