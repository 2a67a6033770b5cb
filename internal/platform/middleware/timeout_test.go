package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestRequestTimeout_CompletesWithinDeadline(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/goals", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := func(c echo.Context) error {
		called = true
		if _, ok := c.Request().Context().Deadline(); !ok {
			t.Error("expected request context to carry a deadline")
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := RequestTimeout(5 * time.Second)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called")
	}
}

func TestRequestTimeout_ReturnsTimeoutOnExpiry(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/goals", nil), httptest.NewRecorder())

	handler := func(c echo.Context) error {
		<-c.Request().Context().Done()
		return fmt.Errorf("list goals: %w", c.Request().Context().Err())
	}

	err := RequestTimeout(20 * time.Millisecond)(handler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %v", err)
	}
}

func TestRequestTimeout_PropagatesHandlerError(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	handler := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}

	err := RequestTimeout(time.Second)(handler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404 to propagate, got %v", err)
	}
}

// A handler that outlives its deadline finishes on its own request before
// echo reuses the context for the next one.
func TestRequestTimeout_LateHandlerStaysOnItsRequest(t *testing.T) {
	e := echo.New()
	e.Use(RequestTimeout(20 * time.Millisecond))
	e.GET("/slow", func(c echo.Context) error {
		time.Sleep(30 * time.Millisecond)
		return c.String(http.StatusOK, "slow-patient-a")
	})
	e.GET("/fast", func(c echo.Context) error {
		time.Sleep(5 * time.Millisecond)
		return c.String(http.StatusOK, "fast-b")
	})

	for i := 0; i < 5; i++ {
		slow := httptest.NewRecorder()
		e.ServeHTTP(slow, httptest.NewRequest(http.MethodGet, "/slow", nil))
		fast := httptest.NewRecorder()
		e.ServeHTTP(fast, httptest.NewRequest(http.MethodGet, "/fast", nil))

		if got := slow.Body.String(); got != "slow-patient-a" {
			t.Fatalf("round %d: slow response body %q", i, got)
		}
		if got := fast.Body.String(); got != "fast-b" {
			t.Fatalf("round %d: fast response body %q", i, got)
		}
	}
}
