package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"therapy-scheduling-server/internal/models"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	user := &models.User{Username: "doc", Role: models.RoleTherapist}
	user.ID = "u-42"

	token, err := GenerateAccessToken(user, "s3cret", time.Minute)
	require.NoError(t, err)

	claims, err := ValidateToken(token, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "u-42", claims.UserID)
	assert.Equal(t, "doc", claims.Username)
	assert.Equal(t, models.RoleTherapist, claims.Role)

	_, err = ValidateToken(token, "other-secret")
	assert.Error(t, err)

	expired, err := GenerateAccessToken(user, "s3cret", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateToken(expired, "s3cret")
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestValidateTokenRejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Username: "x"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ValidateToken(signed, "s3cret")
	assert.Error(t, err)
}

type signupForm struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role" binding:"required,oneof=patient therapist"`
}

func TestBindAndValidate(t *testing.T) {
	gin.SetMode(gin.TestMode)

	run := func(body string) (*httptest.ResponseRecorder, bool) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		c.Request.Header.Set("Content-Type", "application/json")
		var form signupForm
		return w, BindAndValidate(c, &form)
	}

	w, ok := run(`{"email":"a@example.com","role":"patient"}`)
	assert.True(t, ok)
	assert.Equal(t, http.StatusOK, w.Code)

	w, ok = run(`{"email":"nope","role":"admin"}`)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Email must be a valid email")
	assert.Contains(t, w.Body.String(), "Role must be one of: patient therapist")

	w, ok = run(`{`)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
