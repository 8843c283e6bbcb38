package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testKey = []byte("test-signing-key")

func contextWithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, UserRolesKey, roles)
}

func signToken(t *testing.T, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString(testKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func doRequest(t *testing.T, mw echo.MiddlewareFunc, authHeader string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	return rec, h(c)
}

func TestMiddleware_ValidToken(t *testing.T) {
	userID := uuid.New()
	raw := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Name:  "Dr. Chen",
		Roles: []string{"physician"},
	})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := Middleware(testKey)(func(c echo.Context) error {
		ctx := c.Request().Context()
		if got := UserIDFromContext(ctx); got != userID {
			t.Errorf("user id = %v, want %v", got, userID)
		}
		if got := NameFromContext(ctx); got != "Dr. Chen" {
			t.Errorf("name = %q, want Dr. Chen", got)
		}
		roles := RolesFromContext(ctx)
		if len(roles) != 1 || roles[0] != "physician" {
			t.Errorf("roles = %v, want [physician]", roles)
		}
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
}

func TestMiddleware_MissingToken(t *testing.T) {
	_, err := doRequest(t, Middleware(testKey), "")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("got %v, want 401", err)
	}
}

func TestMiddleware_BadSignature(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.New().String()},
	})
	raw, _ := token.SignedString([]byte("wrong-key"))

	_, err := doRequest(t, Middleware(testKey), "Bearer "+raw)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("got %v, want 401", err)
	}
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	raw := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	_, err := doRequest(t, Middleware(testKey), "Bearer "+raw)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("got %v, want 401", err)
	}
}

func TestMiddleware_NonUUIDSubject(t *testing.T) {
	raw := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "not-a-uuid",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := doRequest(t, Middleware(testKey), "Bearer "+raw)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("got %v, want 401", err)
	}
}

func TestMiddleware_HealthSkipsAuth(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/health")

	h := Middleware(testKey)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("health check rejected without a token: %v", err)
	}
}

func TestMiddleware_WebsocketQueryToken(t *testing.T) {
	userID := uuid.New()
	raw := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"physician"},
	})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws?token="+raw, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/ws")

	h := Middleware(testKey)(func(c echo.Context) error {
		if got := UserIDFromContext(c.Request().Context()); got != userID {
			t.Errorf("user id = %v, want %v", got, userID)
		}
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("query token rejected: %v", err)
	}

	// Query tokens are only honored on the websocket path.
	req = httptest.NewRequest(http.MethodGet, "/api/threads?token="+raw, nil)
	c = e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/api/threads")
	err := h(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("got %v, want 401 for query token off the websocket path", err)
	}
}

func TestRequireRole(t *testing.T) {
	cases := []struct {
		name      string
		userRoles []string
		required  []string
		wantPass  bool
	}{
		{"exact match", []string{"pharmacist"}, []string{"pharmacist"}, true},
		{"admin passes everything", []string{"admin"}, []string{"lab"}, true},
		{"one of several", []string{"physician"}, []string{"physician", "lab"}, true},
		{"no match", []string{"patient"}, []string{"physician"}, false},
		{"no roles", nil, []string{"physician"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			ctx := req.Context()
			if tc.userRoles != nil {
				ctx = contextWithRoles(ctx, tc.userRoles)
			}
			c.SetRequest(req.WithContext(ctx))

			h := RequireRole(tc.required...)(func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			})
			err := h(c)
			if tc.wantPass && err != nil {
				t.Fatalf("expected pass, got %v", err)
			}
			if !tc.wantPass {
				httpErr, ok := err.(*echo.HTTPError)
				if !ok || httpErr.Code != http.StatusForbidden {
					t.Fatalf("got %v, want 403", err)
				}
			}
		})
	}
}

func TestDevMiddleware(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := DevMiddleware()(func(c echo.Context) error {
		ctx := c.Request().Context()
		if UserIDFromContext(ctx) == uuid.Nil {
			t.Error("dev user id not set")
		}
		roles := RolesFromContext(ctx)
		if len(roles) != 1 || roles[0] != "admin" {
			t.Errorf("roles = %v, want [admin]", roles)
		}
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
}
