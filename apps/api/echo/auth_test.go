package echoapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/user"
)

func TestGenerateToken(t *testing.T) {
	conf := core.NewTestConfig()
	usr := user.User{
		ID:         "0b5d5c6e-51c9-4a6c-9a3b-3c1e6f1f2a10",
		SchoolID:   "4f0e7a5e-3d3b-4a0c-8a71-96a0e4b4b0c2",
		NationalID: "0499370899",
		Name:       "سارا احمدی",
		Roles:      []string{user.RoleTeacher},
	}

	var got Claims
	e := echo.New()
	e.GET("/", func(ctx echo.Context) error {
		var err error
		got, err = getContextClaims(ctx)
		if err != nil {
			return err
		}
		return ctx.NoContent(http.StatusNoContent)
	}, middleware.JWTWithConfig(newJWTConfig(conf)))

	token, err := GenerateToken(conf, GetUserClaims(conf, usr, 42))
	if !assert.NoError(t, err) {
		return
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, usr.ID, got.Subject)
	assert.Equal(t, usr.SchoolID, got.SchoolID)
	assert.Equal(t, usr.NationalID, got.NationalID)
	assert.Equal(t, tokenAudience, got.Audience)
	assert.Equal(t, int64(42), got.OrigIssuedAt)
	assert.True(t, got.IsTeacher)
	assert.False(t, got.IsAdmin)
	assert.False(t, got.IsStudent)

	t.Run("wrong key", func(t *testing.T) {
		other := core.NewTestConfig()
		other.SecretKey = "another secret"
		token, err := GenerateToken(other, GetUserClaims(other, usr))
		if !assert.NoError(t, err) {
			return
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func Test_contextHasAnyRole(t *testing.T) {
	conf := core.NewTestConfig()
	usr := user.User{ID: "u1", Roles: []string{user.RoleTeacher, user.RoleAdminPrincipal}}

	tests := []struct {
		name  string
		roles []string
		want  bool
	}{
		{name: "no roles required", want: true},
		{name: "one matching", roles: []string{user.RoleAdminOwner, user.RoleAdminPrincipal}, want: true},
		{name: "none matching", roles: []string{user.RoleAdminOwner}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got bool
			e := echo.New()
			e.GET("/", func(ctx echo.Context) error {
				got = contextHasAnyRole(ctx, tt.roles)
				return ctx.NoContent(http.StatusNoContent)
			}, middleware.JWTWithConfig(newJWTConfig(conf)))

			token, err := GenerateToken(conf, GetUserClaims(conf, usr))
			if !assert.NoError(t, err) {
				return
			}
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
			e.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, got)
		})
	}
}
