package auth

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
)

// Service guards operator actions with a TOTP check. An empty secret
// disables the check, which is acceptable only for local development.
type Service struct {
	logger     *zap.Logger
	totpSecret string
}

func NewService(logger *zap.Logger, totpSecret string) *Service {
	return &Service{
		logger:     logger,
		totpSecret: totpSecret,
	}
}

// GenerateSecret creates a fresh TOTP secret for operator enrollment.
func (a *Service) GenerateSecret(accountName string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "VixenBliss Creator",
		AccountName: accountName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	return key.Secret(), nil
}

func (a *Service) ValidateToken(token string) bool {
	valid := totp.Validate(token, a.totpSecret)
	if valid {
		a.logger.Info("TOTP token validation successful")
	} else {
		a.logger.Warn("TOTP token validation failed")
	}
	return valid
}

// OperatorMiddleware requires a valid TOTP code in the X-OTP header. Used
// on routes with irreversible effect, such as resetting a suspended
// account.
func (a *Service) OperatorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.totpSecret == "" {
			c.Next()
			return
		}

		token := c.GetHeader("X-OTP")
		if token == "" || !a.ValidateToken(token) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "valid OTP required"})
			c.Abort()
			return
		}

		c.Next()
	}
}
