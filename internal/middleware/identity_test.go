package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/acadeon/curricula-api/internal/models"
	"github.com/acadeon/curricula-api/pkg/config"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
)

const testSecret = "unit-test-secret"

func testIdentityConfig() config.IdentityConfig {
	return config.IdentityConfig{Secret: testSecret, Issuer: "acadeon-sso", Audience: "curricula-api"}
}

func signToken(t *testing.T, claims identityClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func lecturerClaims() identityClaims {
	return identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "lect-1",
			Issuer:    "acadeon-sso",
			Audience:  jwt.ClaimStrings{"curricula-api"},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		FullName:       "Dana Cole",
		Role:           "LECTURER",
		DepartmentCode: "CS",
	}
}

func TestVerifierAcceptsWellFormedToken(t *testing.T) {
	verifier := NewVerifier(testIdentityConfig())

	actor, err := verifier.Verify(signToken(t, lecturerClaims()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor.Subject != "lect-1" || actor.Role != models.RoleLecturer {
		t.Fatalf("unexpected actor: %+v", actor)
	}
	if actor.DepartmentCode != "CS" {
		t.Fatalf("unexpected department: %s", actor.DepartmentCode)
	}
}

func TestVerifierRejectsExpiredToken(t *testing.T) {
	verifier := NewVerifier(testIdentityConfig())
	claims := lecturerClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	_, err := verifier.Verify(signToken(t, claims))
	if err == nil {
		t.Fatal("expected error for expired token")
	}
	if code := appErrors.FromError(err).Code; code != "UNAUTHORIZED" {
		t.Fatalf("unexpected code: %s", code)
	}
}

func TestVerifierRejectsWrongIssuer(t *testing.T) {
	verifier := NewVerifier(testIdentityConfig())
	claims := lecturerClaims()
	claims.Issuer = "someone-else"

	if _, err := verifier.Verify(signToken(t, claims)); err == nil {
		t.Fatal("expected error for wrong issuer")
	}
}

func TestVerifierRejectsUnknownRole(t *testing.T) {
	verifier := NewVerifier(testIdentityConfig())
	claims := lecturerClaims()
	claims.Role = "REGISTRAR"

	if _, err := verifier.Verify(signToken(t, claims)); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestIdentityMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier := NewVerifier(testIdentityConfig())

	router := gin.New()
	router.Use(Identity(verifier))
	router.GET("/", func(c *gin.Context) {
		actor, ok := CurrentActor(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, actor.Subject)
	})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, lecturerClaims()))
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK || recorder.Body.String() != "lect-1" {
		t.Fatalf("unexpected response: %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Token abc")
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non-bearer scheme, got %d", recorder.Code)
	}
}

func TestRequireRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(actor models.Actor) *gin.Engine {
		router := gin.New()
		router.Use(func(c *gin.Context) {
			c.Set(ContextActorKey, actor)
			c.Next()
		})
		router.Use(RequireRoles(models.RoleHOD, models.RoleAdmin))
		router.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })
		return router
	}

	recorder := httptest.NewRecorder()
	newRouter(models.Actor{Subject: "hod-1", Role: models.RoleHOD}).
		ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected HOD to pass, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	newRouter(models.Actor{Subject: "stud-1", Role: models.RoleStudent}).
		ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected student to be blocked, got %d", recorder.Code)
	}
}
