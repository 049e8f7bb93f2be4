package membership

import (
	"testing"
	"time"

	"bookhold/internal/apperror"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	account := &Account{ID: uuid.New(), Admin: true}

	token, exp, err := issuer.Issue(account)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	id, admin, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, account.ID, id)
	assert.True(t, admin)
}

func TestTokenRejected(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	account := &Account{ID: uuid.New()}
	token, _, err := issuer.Issue(account)
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		_, _, err := NewTokenIssuer("other", time.Hour).Parse(token)
		assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	})

	t.Run("expired", func(t *testing.T) {
		late := NewTokenIssuer("secret", time.Hour)
		late.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, _, err := late.Parse(token)
		assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	})

	t.Run("unsigned", func(t *testing.T) {
		none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Subject:   account.ID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, _, err = issuer.Parse(none)
		assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	})

	t.Run("garbage", func(t *testing.T) {
		_, _, err := issuer.Parse("not-a-token")
		assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	})
}

func TestPasswordHashing(t *testing.T) {
	hash, salt, err := hashPassword("correct horse battery")
	require.NoError(t, err)
	cred := &Credential{PasswordHash: hash, Salt: salt}

	ok, err := verifyPassword("correct horse battery", cred)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPassword("Correct horse battery", cred)
	require.NoError(t, err)
	assert.False(t, ok)

	other, otherSalt, err := hashPassword("correct horse battery")
	require.NoError(t, err)
	assert.NotEqual(t, salt, otherSalt)
	assert.NotEqual(t, hash, other)

	_, err = verifyPassword("x", &Credential{PasswordHash: hash, Salt: "%%%"})
	assert.Error(t, err)
}
