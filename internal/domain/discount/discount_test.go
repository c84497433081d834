package discount

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestDiscount_Apply(t *testing.T) {
	tests := []struct {
		name      string
		reduction Reduction
		price     decimal.Decimal
		want      decimal.Decimal
	}{
		{name: "20% off 100.00", reduction: PercentOff{Percent: d("20")}, price: d("100.00"), want: d("80.00")},
		{name: "15% off 19.99", reduction: PercentOff{Percent: d("15")}, price: d("19.99"), want: d("16.99")},
		{name: "half rounds up", reduction: PercentOff{Percent: d("25")}, price: d("0.30"), want: d("0.23")},
		{name: "100% off", reduction: PercentOff{Percent: d("100")}, price: d("42.00"), want: d("0")},
		{name: "fractional percent", reduction: PercentOff{Percent: d("12.5")}, price: d("80.00"), want: d("70.00")},
		{name: "fixed price ignores catalog", reduction: FixedPrice{Price: d("55.50")}, price: d("70.00"), want: d("55.50")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disc := Discount{Target: ProductTarget{ProductID: 1}, Reduction: tt.reduction, Active: true}
			got := disc.Apply(tt.price)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestDiscount_Validate(t *testing.T) {
	tests := []struct {
		name    string
		disc    Discount
		wantErr error
	}{
		{
			name: "product percent",
			disc: Discount{Target: ProductTarget{ProductID: 1}, Reduction: PercentOff{Percent: d("10")}},
		},
		{
			name: "product fixed price",
			disc: Discount{Target: ProductTarget{ProductID: 1}, Reduction: FixedPrice{Price: d("9.99")}},
		},
		{
			name: "category percent",
			disc: Discount{Target: CategoryTarget{CategoryID: 2}, Reduction: PercentOff{Percent: d("5")}},
		},
		{
			name:    "category fixed price",
			disc:    Discount{Target: CategoryTarget{CategoryID: 2}, Reduction: FixedPrice{Price: d("9.99")}},
			wantErr: ErrFixedPriceOnCategory,
		},
		{
			name:    "no target",
			disc:    Discount{Reduction: PercentOff{Percent: d("10")}},
			wantErr: ErrInvalidTarget,
		},
		{
			name:    "no reduction",
			disc:    Discount{Target: ProductTarget{ProductID: 1}},
			wantErr: ErrInvalidReduction,
		},
		{
			name:    "percent above 100",
			disc:    Discount{Target: ProductTarget{ProductID: 1}, Reduction: PercentOff{Percent: d("101")}},
			wantErr: ErrInvalidReduction,
		},
		{
			name:    "zero percent",
			disc:    Discount{Target: ProductTarget{ProductID: 1}, Reduction: PercentOff{Percent: d("0")}},
			wantErr: ErrInvalidReduction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.disc.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestPercentFromPrice(t *testing.T) {
	assert.True(t, d("20").Equal(PercentFromPrice(d("100.00"), d("80.00"))))
	assert.True(t, d("33.33").Equal(PercentFromPrice(d("30.00"), d("20.00"))))
	assert.True(t, decimal.Zero.Equal(PercentFromPrice(decimal.Zero, d("1.00"))))
}
