package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "github.com/Ramsey-B/fern/pkg/context"
)

func newServer(handler echo.HandlerFunc) *echo.Echo {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	e := echo.New()
	e.HTTPErrorHandler = Error(logger)
	e.Use(Context())
	e.Use(Logger(logger))
	e.GET("/test", handler)
	return e
}

func do(t *testing.T, e *echo.Echo, header map[string]string) (*httptest.ResponseRecorder, ErrorResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var body ErrorResponse
	if rec.Code >= http.StatusBadRequest {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestContext_RequestID(t *testing.T) {
	var seen string
	e := newServer(func(c echo.Context) error {
		seen = appctx.GetRequestID(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	})

	rec, _ := do(t, e, map[string]string{echo.HeaderXRequestID: "req-1"})
	assert.Equal(t, "req-1", seen)
	assert.Equal(t, "req-1", rec.Header().Get(echo.HeaderXRequestID))

	rec, _ = do(t, e, nil)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(echo.HeaderXRequestID))
}

func TestError_HTTPError(t *testing.T) {
	e := newServer(func(c echo.Context) error {
		return httperror.NewHTTPError(http.StatusNotFound, "unknown kind")
	})

	rec, body := do(t, e, map[string]string{echo.HeaderXRequestID: "req-2"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body.Message, "unknown kind")
	assert.Equal(t, "req-2", body.RequestID)
}

func TestError_EchoError(t *testing.T) {
	e := newServer(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "bad input")
	})

	rec, body := do(t, e, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad input", body.Message)
}

func TestError_Unknown(t *testing.T) {
	e := newServer(func(c echo.Context) error {
		return errors.New("boom")
	})

	rec, body := do(t, e, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error", body.Message)
}
