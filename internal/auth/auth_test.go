package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartengo-backend/internal/model"
)

func TestManager_IssueAndParse(t *testing.T) {
	m := NewManager("secret", time.Hour)
	u := &model.AdminUser{ID: "u-1", Email: "ops@example.com", Role: model.RoleModerator}

	token, err := m.Issue(u, time.Now())
	require.NoError(t, err)

	claims, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "ops@example.com", claims.Email)
	assert.Equal(t, model.RoleModerator, claims.Role)
}

func TestManager_ParseRejects(t *testing.T) {
	m := NewManager("secret", time.Hour)
	u := &model.AdminUser{ID: "u-1", Email: "ops@example.com", Role: model.RoleAdmin}

	t.Run("expired token", func(t *testing.T) {
		token, err := m.Issue(u, time.Now().Add(-2*time.Hour))
		require.NoError(t, err)
		_, err = m.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := NewManager("other", time.Hour).Issue(u, time.Now())
		require.NoError(t, err)
		_, err = m.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned token", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u-1"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = m.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := m.Parse("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret!")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret!", hash)
	assert.True(t, CheckPassword(hash, "s3cret!"))
	assert.False(t, CheckPassword(hash, "wrong"))
}
