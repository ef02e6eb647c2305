package session

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/progress-tracker/internal/apperror"
)

func newTestManager() *Manager {
	return NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func signedToken(t *testing.T, subject string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("client-never-sees-this-secret"))
	require.NoError(t, err)
	return s
}

func TestSignIn_BumpsEpochAndNotifies(t *testing.T) {
	m := newTestManager()
	var seen [][2]string
	m.OnChange(func(prev, next State) {
		seen = append(seen, [2]string{prev.OwnerID, next.OwnerID})
	})

	s1, err := m.SignIn("ada")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s1.Epoch)

	// Same owner again is not a change.
	s2, err := m.SignIn("ada")
	require.NoError(t, err)
	assert.Equal(t, s1.Epoch, s2.Epoch)

	m.SignOut()
	assert.False(t, m.IsCurrent(s1.Epoch))

	assert.Equal(t, [][2]string{{"", "ada"}, {"ada", ""}}, seen)
}

func TestSignIn_EmptyOwner(t *testing.T) {
	m := newTestManager()
	_, err := m.SignIn("")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestRequire(t *testing.T) {
	m := newTestManager()
	_, err := m.Require()
	assert.ErrorIs(t, err, apperror.ErrNotAuthenticated)

	_, _ = m.SignIn("ada")
	s, err := m.Require()
	require.NoError(t, err)
	assert.Equal(t, "ada", s.OwnerID)
}

func TestSignInWithToken(t *testing.T) {
	m := newTestManager()

	s, err := m.SignInWithToken(signedToken(t, "owner-1", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "owner-1", s.OwnerID)
	assert.NotEmpty(t, s.Token)

	_, err = m.SignInWithToken(signedToken(t, "owner-2", time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, apperror.ErrNotAuthenticated)

	_, err = m.SignInWithToken("garbage")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = m.SignInWithToken(signedToken(t, "", time.Now().Add(time.Hour)))
	assert.ErrorIs(t, err, apperror.ErrValidation)

	// Failed sign-ins leave the session alone.
	assert.Equal(t, "owner-1", m.Current().OwnerID)
}

func TestOnChange_Cancel(t *testing.T) {
	m := newTestManager()
	calls := 0
	cancel := m.OnChange(func(State, State) { calls++ })

	_, _ = m.SignIn("ada")
	cancel()
	cancel()
	_, _ = m.SignIn("bob")

	assert.Equal(t, 1, calls)
}
