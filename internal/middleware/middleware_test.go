package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/darasa-api/internal/models"
	"github.com/noah-isme/darasa-api/internal/service"
	appErrors "github.com/noah-isme/darasa-api/pkg/errors"
)

type authenticatorStub struct {
	principal models.Principal
	err       error
	token     string
}

func (a *authenticatorStub) Authenticate(token string) (*models.JWTClaims, models.Principal, error) {
	a.token = token
	if a.err != nil {
		return nil, nil, a.err
	}
	return &models.JWTClaims{UserID: a.principal.UserID(), Role: a.principal.Kind()}, a.principal, nil
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append(mw, func(c *gin.Context) {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			c.Status(http.StatusTeapot)
			return
		}
		c.String(http.StatusOK, principal.UserID())
	})
	r.GET("/", handlers...)
	return r
}

func TestJWTRequiresBearerToken(t *testing.T) {
	stub := &authenticatorStub{principal: models.Student{Identity: models.Identity{ID: "u-1"}, StudentID: "s-1"}}
	r := newRouter(JWT(stub))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-1", w.Body.String())
	assert.Equal(t, "tok", stub.token)
}

func TestJWTPropagatesAuthError(t *testing.T) {
	stub := &authenticatorStub{err: appErrors.Clone(appErrors.ErrUnauthorized, "unsupported principal")}
	r := newRouter(JWT(stub))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported principal")
}

func TestRequireKinds(t *testing.T) {
	teacher := &authenticatorStub{principal: models.Teacher{Identity: models.Identity{ID: "u-t"}, TeacherID: "t-1"}}
	student := &authenticatorStub{principal: models.Student{Identity: models.Identity{ID: "u-s"}, StudentID: "s-1"}}

	for _, tc := range []struct {
		name string
		auth *authenticatorStub
		want int
	}{
		{"teacher allowed", teacher, http.StatusOK},
		{"student forbidden", student, http.StatusForbidden},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(JWT(tc.auth), RequireKinds(models.RoleTeacher, models.RoleStaff))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer tok")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}

	w := httptest.NewRecorder()
	newRouter(RequireKinds(models.RoleStaff)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMetricsMiddlewareRecordsRoute(t *testing.T) {
	metrics := service.NewMetricsService()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/rooms/:room_id/running", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rooms/42/running", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), `path="/rooms/:room_id/running"`)
}

func TestMetricsMiddlewareGroupsUnmatchedPaths(t *testing.T) {
	metrics := service.NewMetricsService()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics(metrics))

	for _, path := range []string{"/wp-admin", "/.env"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	w := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	assert.Contains(t, body, `path="unmatched"`)
	assert.NotContains(t, body, `path="/wp-admin"`)
}
