package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

var branchA = Context{RestaurantID: "r1", BranchID: "b1", TableID: "t1"}

func paid(id string, qty int, price string) Line {
	return Line{ItemID: id, Name: id, Quantity: qty, Price: d(price), Origin: OriginUser}
}

func TestLine_IsFree(t *testing.T) {
	tests := []struct {
		name string
		line Line
		want bool
	}{
		{name: "user origin", line: Line{Origin: OriginUser, Price: d("0")}, want: false},
		{name: "promotion origin", line: Line{Origin: OriginPromotion, Price: d("0")}, want: true},
		{name: "legacy zero price", line: Line{Price: d("0")}, want: true},
		{name: "legacy priced", line: Line{Price: d("12.5")}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.line.IsFree())
		})
	}
}

func TestPatch_AddLine(t *testing.T) {
	c := New("c1")

	got, err := NewPatch(
		AddLine{Line: paid("pizza", 2, "150"), Context: branchA, Tenant: Tenant{Tax: d("15")}},
		AddLine{Line: Line{ItemID: "pizza", Quantity: 1, Price: d("0")}, Context: branchA},
	).ApplyTo(c)
	require.NoError(t, err)

	require.Len(t, got.Lines, 2)
	assert.Equal(t, PaidKey("pizza"), got.Lines[0].Key())
	assert.Equal(t, FreeKey("pizza"), got.Lines[1].Key())
	assert.Equal(t, OriginPromotion, got.Lines[1].Origin)
	assert.Equal(t, branchA, got.Context)
	assert.Equal(t, int64(1), got.Version)
	assert.Empty(t, c.Lines, "input cart must not change")
}

func TestPatch_AddLineAccumulates(t *testing.T) {
	c := New("c1")
	got, err := NewPatch(
		AddLine{Line: paid("burger", 1, "100"), Context: branchA},
		AddLine{Line: paid("burger", 2, "100"), Context: branchA},
	).ApplyTo(c)
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, 3, got.Lines[0].Quantity)
}

func TestPatch_AddLineContextMismatch(t *testing.T) {
	c, err := NewPatch(AddLine{Line: paid("burger", 1, "100"), Context: branchA}).ApplyTo(New("c1"))
	require.NoError(t, err)

	other := Context{RestaurantID: "r1", BranchID: "b2"}
	_, err = NewPatch(AddLine{Line: paid("fries", 1, "30"), Context: other}).ApplyTo(c)
	require.ErrorIs(t, err, ErrContextMismatch)
}

func TestPatch_AtomicOnError(t *testing.T) {
	c, err := NewPatch(AddLine{Line: paid("burger", 1, "100"), Context: branchA}).ApplyTo(New("c1"))
	require.NoError(t, err)

	_, err = NewPatch(
		SetQuantity{Key: PaidKey("burger"), Quantity: 5},
		AddLine{Line: paid("fries", 0, "30"), Context: branchA},
	).ApplyTo(c)
	require.ErrorIs(t, err, ErrInvalidQuantity)
	assert.Equal(t, 1, c.Lines[0].Quantity)
}

func TestPatch_SetQuantityZeroRemovesAndResets(t *testing.T) {
	c, err := NewPatch(
		AddLine{Line: paid("burger", 2, "100"), Context: branchA},
		SetCoupon{Code: "  SAVE  "},
		SetRemarks{Remarks: map[string]string{"burger": "no onions"}},
		SetDiscount{Amount: d("15")},
	).ApplyTo(New("c1"))
	require.NoError(t, err)
	assert.Equal(t, "SAVE", c.Coupon)

	got, err := NewPatch(SetQuantity{Key: PaidKey("burger"), Quantity: 0}).ApplyTo(c)
	require.NoError(t, err)
	assert.Empty(t, got.Lines)
	assert.True(t, got.Context.IsZero())
	assert.Empty(t, got.Coupon)
	assert.Empty(t, got.Remarks)
	assert.True(t, got.Discount.IsZero())
}

func TestPatch_SetQuantityUnknownKeyIgnored(t *testing.T) {
	c, err := NewPatch(AddLine{Line: paid("burger", 2, "100"), Context: branchA}).ApplyTo(New("c1"))
	require.NoError(t, err)

	got, err := NewPatch(SetQuantity{Key: FreeKey("burger"), Quantity: 3}).ApplyTo(c)
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, 2, got.Lines[0].Quantity)
}

func TestPatch_ExpectedVersion(t *testing.T) {
	c := New("c1")
	c.Version = 4

	_, err := Patch{ExpectedVersion: 3, Ops: []Op{SetDiscount{Amount: d("1")}}}.ApplyTo(c)
	require.ErrorIs(t, err, ErrVersionConflict)

	got, err := Patch{ExpectedVersion: 4, Ops: []Op{SetDiscount{Amount: d("1")}}}.ApplyTo(c)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Version)
}

func TestPatch_Reorder(t *testing.T) {
	c, err := NewPatch(AddLine{Line: paid("burger", 1, "100"), Context: branchA}).ApplyTo(New("c1"))
	require.NoError(t, err)

	same, err := NewPatch(Reorder{Lines: []Line{paid("burger", 2, "100")}, Context: branchA}).ApplyTo(c)
	require.NoError(t, err)
	require.Len(t, same.Lines, 1)
	assert.Equal(t, 3, same.Lines[0].Quantity)

	other := Context{RestaurantID: "r2", BranchID: "b9"}
	moved, err := NewPatch(Reorder{Lines: []Line{paid("soup", 1, "40")}, Context: other}).ApplyTo(c)
	require.NoError(t, err)
	require.Len(t, moved.Lines, 1)
	assert.Equal(t, "soup", moved.Lines[0].ItemID)
	assert.Equal(t, other, moved.Context)
}

func TestPatch_Clear(t *testing.T) {
	c, err := NewPatch(
		AddLine{Line: paid("burger", 1, "100"), Context: branchA},
		SetDiscount{Amount: d("10")},
	).ApplyTo(New("c1"))
	require.NoError(t, err)

	got, err := NewPatch(Clear{}).ApplyTo(c)
	require.NoError(t, err)
	assert.Empty(t, got.Lines)
	assert.True(t, got.Discount.IsZero())
	assert.True(t, got.Context.IsZero())
}

func TestCart_Totals(t *testing.T) {
	c, err := NewPatch(
		AddLine{
			Line:    paid("burger", 2, "100"),
			Context: branchA,
			Tenant:  Tenant{Tax: d("15"), ServiceCharge: d("5")},
		},
		AddLine{Line: Line{ItemID: "fries", Quantity: 1, Origin: OriginPromotion}, Context: branchA,
			Tenant: Tenant{Tax: d("15"), ServiceCharge: d("5")}},
		SetDiscount{Amount: d("20")},
		SetRedeemAmount{Amount: d("10")},
	).ApplyTo(New("c1"))
	require.NoError(t, err)

	got := c.Totals()
	assert.True(t, d("200").Equal(got.Subtotal), "subtotal %s", got.Subtotal)
	assert.True(t, d("30").Equal(got.Tax), "tax %s", got.Tax)
	assert.True(t, d("10").Equal(got.ServiceCharge), "service %s", got.ServiceCharge)
	assert.True(t, d("180").Equal(got.Total), "total %s", got.Total)
	assert.True(t, d("210").Equal(got.Payable), "payable %s", got.Payable)
}

func TestCart_TotalsFlooredAtZero(t *testing.T) {
	c, err := NewPatch(
		AddLine{Line: paid("tea", 1, "10"), Context: branchA},
		SetDiscount{Amount: d("999")},
	).ApplyTo(New("c1"))
	require.NoError(t, err)

	got := c.Totals()
	assert.True(t, got.Total.IsZero())
	assert.True(t, got.Payable.IsZero())
}
