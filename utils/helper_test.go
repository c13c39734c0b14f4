package utils_test

import (
	"context"
	"testing"

	"github.com/mmdatafocus/ims_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "pearl white", utils.NormalizeKey("  Pearl White "))
	assert.Equal(t, "", utils.NormalizeKey("   "))
}

func TestValidateIndianMobile(t *testing.T) {
	assert.NoError(t, utils.ValidateIndianMobile("9876543210"))
	assert.Error(t, utils.ValidateIndianMobile("1234567890"))
	assert.Error(t, utils.ValidateIndianMobile("98765"))
	assert.Error(t, utils.ValidateIndianMobile("+919876543210"))
}

func TestValidateStruct(t *testing.T) {
	type customer struct {
		Name    string `validate:"required"`
		Phone   string `validate:"required,in_mobile"`
		Pincode string `validate:"omitempty,pincode"`
		Pan     string `validate:"omitempty,pan"`
		Aadhar  string `validate:"omitempty,aadhar"`
	}
	require.NoError(t, utils.ValidateStruct(&customer{Name: "Asha", Phone: "9876543210", Pincode: "411001", Pan: "abcde1234f", Aadhar: "123412341234"}))

	err := utils.ValidateStruct(&customer{Phone: "555", Pincode: "41100"})
	require.Error(t, err)
	assert.Equal(t, "Name: required, Phone: in_mobile, Pincode: pincode", err.Error())
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "system", utils.GetUsernameOrSystem(ctx))

	ctx = utils.SetUsernameInContext(ctx, "priya")
	ctx = utils.SetBranchIdInContext(ctx, "b-1")
	name, ok := utils.GetUsernameFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "priya", name)
	branch, ok := utils.GetBranchIdFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "b-1", branch)

	ctx, id := utils.EnsureCorrelationId(ctx)
	require.NotEmpty(t, id)
	_, same := utils.EnsureCorrelationId(ctx)
	assert.Equal(t, id, same)

	_, ok = utils.GetRequestPathFromContext(ctx)
	assert.False(t, ok)
	ctx = utils.SetRequestPathInContext(ctx, "PATCH /api/orders/o-1")
	path, ok := utils.GetRequestPathFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "PATCH /api/orders/o-1", path)
}
