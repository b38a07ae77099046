package utils

import (
	"testing"
	"time"

	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	partnerID := uint(12)
	user := &models.User{Email: "shop@example.com", Role: models.RolePartner, PartnerID: &partnerID}
	user.ID = 5

	token, err := GenerateToken("secret", user, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, uint(5), claims.UserID)
	assert.Equal(t, models.RolePartner, claims.Role)
	require.NotNil(t, claims.PartnerID)
	assert.Equal(t, uint(12), *claims.PartnerID)

	_, err = ValidateToken("other", token)
	assert.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	user := &models.User{Role: models.RoleRider}
	user.ID = 1
	token, err := GenerateToken("secret", user, -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken("secret", token)
	assert.Error(t, err)
}
