package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newGuardedRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	service := NewService(zap.NewNop(), secret)
	router := gin.New()
	router.POST("/reset", service.OperatorMiddleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
	return router
}

func TestValidateToken(t *testing.T) {
	service := NewService(zap.NewNop(), "")
	secret, err := service.GenerateSecret("operator@vixenbliss")
	require.NoError(t, err)

	service = NewService(zap.NewNop(), secret)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	assert.True(t, service.ValidateToken(code))
	assert.False(t, service.ValidateToken("000000"))
}

func TestOperatorMiddleware_RequiresOTP(t *testing.T) {
	secret, err := NewService(zap.NewNop(), "").GenerateSecret("operator@vixenbliss")
	require.NoError(t, err)
	router := newGuardedRouter(secret)

	// No header.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reset", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Valid code.
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/reset", nil)
	req.Header.Set("X-OTP", code)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOperatorMiddleware_EmptySecretDisablesCheck(t *testing.T) {
	router := newGuardedRouter("")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reset", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
