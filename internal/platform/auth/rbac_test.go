package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func serveWithRoles(roles []string, mw echo.MiddlewareFunc) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, roles))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	return rec, err
}

func TestRequireRole_Allowed(t *testing.T) {
	rec, err := serveWithRoles([]string{RoleProvider}, RequireRole(RoleProvider))
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	_, err := serveWithRoles([]string{RolePatient}, RequireRole(RoleProvider))
	if err == nil {
		t.Fatal("expected error for denied role")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	if _, err := serveWithRoles([]string{RoleAdmin}, RequireRole(RoleProvider)); err != nil {
		t.Errorf("admin should pass any role check, got %v", err)
	}
}

func TestRequireRole_NoRoles(t *testing.T) {
	if _, err := serveWithRoles(nil, RequireRole(RoleProvider)); err == nil {
		t.Error("expected error when no roles in context")
	}
}

func TestValidRole(t *testing.T) {
	for _, r := range []string{RolePatient, RoleProvider, RoleAdmin} {
		if !ValidRole(r) {
			t.Errorf("expected %q to be valid", r)
		}
	}
	for _, r := range []string{"", "nurse", "Provider"} {
		if ValidRole(r) {
			t.Errorf("expected %q to be invalid", r)
		}
	}
}
