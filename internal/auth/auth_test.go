package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wellsight-ai/wellsight/internal/model"
)

func testAccount() model.Account {
	return model.Account{
		ID:        uuid.New(),
		AccountID: "rig-ops",
		Role:      model.RoleEngineer,
	}
}

func TestJWTManager_IssueAndValidate(t *testing.T) {
	mgr, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	acct := testAccount()
	token, exp, err := mgr.IssueToken(acct)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, acct.ID.String(), claims.Subject)
	assert.Equal(t, "rig-ops", claims.AccountID)
	assert.Equal(t, model.RoleEngineer, claims.Role)
	assert.Equal(t, "wellsight", claims.Issuer)
}

func TestJWTManager_RejectsExpiredToken(t *testing.T) {
	mgr, err := NewJWTManager("", "", -time.Minute)
	require.NoError(t, err)

	token, _, err := mgr.IssueToken(testAccount())
	require.NoError(t, err)

	_, err = mgr.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTManager_RejectsTokenFromOtherKey(t *testing.T) {
	mgr1, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	mgr2, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	token, _, err := mgr1.IssueToken(testAccount())
	require.NoError(t, err)

	_, err = mgr2.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTManager_RejectsGarbage(t *testing.T) {
	mgr, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	_, err = mgr.ValidateToken("not.a.token")
	assert.Error(t, err)
}

func TestHashAPIKey_RoundTrip(t *testing.T) {
	hash, err := HashAPIKey("sk-wellsight-test-key")
	require.NoError(t, err)
	assert.Contains(t, hash, "$")

	assert.True(t, VerifyAPIKey("sk-wellsight-test-key", hash))
	assert.False(t, VerifyAPIKey("sk-wellsight-wrong-key", hash))
}

func TestHashAPIKey_UniqueSalts(t *testing.T) {
	h1, err := HashAPIKey("same-key")
	require.NoError(t, err)
	h2, err := HashAPIKey("same-key")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestVerifyAPIKey_MalformedStored(t *testing.T) {
	assert.False(t, VerifyAPIKey("key", "no-separator"))
	assert.False(t, VerifyAPIKey("key", "!!$!!"))
	assert.False(t, VerifyAPIKey("key", ""))
}
