package utils

import (
	"context"
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJwtRoundTrip(t *testing.T) {
	t.Setenv("API_SECRET", "test-secret")

	token, err := JwtGenerate(JwtCustomClaim{ID: 3, Name: "Thida", PartyType: "SITE", PartyId: 9})
	require.NoError(t, err)

	parsed, err := JwtValidate(token)
	require.NoError(t, err)
	claim, ok := parsed.Claims.(*JwtCustomClaim)
	require.True(t, ok)
	assert.Equal(t, 3, claim.ID)
	assert.Equal(t, "SITE", claim.PartyType)
	assert.Equal(t, 9, claim.PartyId)

	t.Setenv("API_SECRET", "rotated")
	_, err = JwtValidate(token)
	assert.Error(t, err)

	forged := jwt.NewWithClaims(jwt.SigningMethodNone, &JwtCustomClaim{ID: 1})
	raw, err := forged.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = JwtValidate(raw)
	assert.Error(t, err)
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	_, ok := GetUserIdFromContext(ctx)
	assert.False(t, ok)

	ctx = SetUserIdInContext(ctx, 4)
	ctx = SetPartyInContext(ctx, "EQUIPMENT", 12)
	ctx = SetCorrelationIdInContext(ctx, "cid-1")

	userId, ok := GetUserIdFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, 4, userId)
	partyType, partyId, ok := GetPartyFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "EQUIPMENT", partyType)
	assert.Equal(t, 12, partyId)
	cid, _ := GetCorrelationIdFromContext(ctx)
	assert.Equal(t, "cid-1", cid)
}

func TestUniqueSlice(t *testing.T) {
	assert.Equal(t, []int{3, 1, 2}, UniqueSlice([]int{3, 1, 3, 2, 1}))
	assert.Empty(t, UniqueSlice[string](nil))
}

func TestNewSheetFile(t *testing.T) {
	f, err := NewSheetFile([]string{"Item", "Qty"}, [][]interface{}{{"Bolt", 4}, {"Nut", 9}})
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(defaultSheet)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Item", "Qty"}, {"Bolt", "4"}, {"Nut", "9"}}, rows)
}

func TestValidateStruct(t *testing.T) {
	type input struct {
		Name string `json:"name" validate:"required"`
		Qty  int    `json:"qty" validate:"gte=0"`
	}
	assert.NoError(t, ValidateStruct(&input{Name: "a"}))
	assert.Error(t, ValidateStruct(&input{Qty: -1}))
}
