package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkerFunc func(ctx context.Context) error

func (f checkerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checker    HealthChecker
		wantStatus int
		wantBody   string
	}{
		{"no checker", nil, http.StatusOK, `"healthy"`},
		{"reachable", checkerFunc(func(context.Context) error { return nil }), http.StatusOK, `"connected"`},
		{
			"unreachable",
			checkerFunc(func(context.Context) error { return errors.New("source web: connection refused") }),
			http.StatusServiceUnavailable,
			"connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(":0", tt.checker, "test", 0)
			w := httptest.NewRecorder()
			s.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestBodyLimit(t *testing.T) {
	s := New(":0", nil, "test", 1)
	s.Engine.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	small := httptest.NewRecorder()
	s.Engine.ServeHTTP(small, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("{}")))
	require.Equal(t, http.StatusOK, small.Code)

	large := httptest.NewRecorder()
	body := strings.NewReader(strings.Repeat("x", 2<<20))
	s.Engine.ServeHTTP(large, httptest.NewRequest(http.MethodPost, "/echo", body))
	assert.Equal(t, http.StatusRequestEntityTooLarge, large.Code)
}
