package commission_test

import (
	"testing"
	"time"

	"github.com/linemk/resale-orders/internal/commission"
	"github.com/linemk/resale-orders/internal/domain/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeSplit_FreeTierNoPromo(t *testing.T) {
	split := commission.ComputeSplit(commission.Input{
		ProductPrice: dec("100.00"),
		SellerTier:   models.TierFree,
		BuyerTier:    models.TierFree,
	})

	assert.True(t, dec("0.20").Equal(split.Rate), "rate should be 0.20")
	assert.True(t, dec("20.00").Equal(split.CommissionAmount), "commission should be 20.00")
	assert.True(t, dec("80.00").Equal(split.SellerReceives), "seller should receive 80.00")
	assert.True(t, dec("2.00").Equal(split.CashbackAmount), "free buyer cashback should be 2%")
}

func TestComputeSplit_PremiumSeller(t *testing.T) {
	split := commission.ComputeSplit(commission.Input{
		ProductPrice: dec("59.90"),
		SellerTier:   models.TierPremium,
		BuyerTier:    models.TierPremium,
	})

	assert.True(t, dec("0.10").Equal(split.Rate))
	assert.True(t, dec("5.99").Equal(split.CommissionAmount))
	assert.True(t, dec("53.91").Equal(split.SellerReceives))
	// 59.90 * 0.005 = 0.2995 -> 0.30
	assert.True(t, dec("0.30").Equal(split.CashbackAmount))
}

func TestComputeSplit_PromoZeroesCommission(t *testing.T) {
	for _, tier := range []models.Tier{models.TierFree, models.TierPremium} {
		split := commission.ComputeSplit(commission.Input{
			ProductPrice:  dec("100.00"),
			SellerTier:    tier,
			BuyerTier:     models.TierFree,
			PromoActive:   true,
			MinCommission: dec("3.00"),
		})

		assert.True(t, split.Rate.IsZero(), "promo rate should be zero for %s", tier)
		assert.True(t, split.CommissionAmount.IsZero(), "promo commission should be zero for %s", tier)
		assert.True(t, dec("100.00").Equal(split.SellerReceives))
		assert.True(t, dec("2.00").Equal(split.CashbackAmount), "cashback is independent of promo")
	}
}

func TestComputeSplit_MinimumCommission(t *testing.T) {
	split := commission.ComputeSplit(commission.Input{
		ProductPrice:  dec("10.00"),
		SellerTier:    models.TierFree,
		BuyerTier:     models.TierFree,
		MinCommission: dec("3.00"),
	})
	assert.True(t, dec("3.00").Equal(split.CommissionAmount))
	assert.True(t, dec("7.00").Equal(split.SellerReceives))

	tiny := commission.ComputeSplit(commission.Input{
		ProductPrice:  dec("2.00"),
		SellerTier:    models.TierFree,
		BuyerTier:     models.TierFree,
		MinCommission: dec("3.00"),
	})
	assert.True(t, dec("2.00").Equal(tiny.CommissionAmount), "commission must not exceed price")
	assert.True(t, tiny.SellerReceives.IsZero())
}

func TestComputeSplit_SumsToPrice(t *testing.T) {
	prices := []string{"0.01", "0.05", "1.99", "13.37", "100.00", "249.95", "1234.56"}
	for _, p := range prices {
		for _, tier := range []models.Tier{models.TierFree, models.TierPremium} {
			for _, promo := range []bool{false, true} {
				split := commission.ComputeSplit(commission.Input{
					ProductPrice:  dec(p),
					SellerTier:    tier,
					BuyerTier:     tier,
					PromoActive:   promo,
					MinCommission: dec("0.50"),
				})
				assert.True(t, split.CommissionAmount.Add(split.SellerReceives).Equal(dec(p)),
					"commission + seller receives must equal price for %s/%s/%v", p, tier, promo)
			}
		}
	}
}

func TestComputeSplit_Deterministic(t *testing.T) {
	in := commission.Input{
		ProductPrice:  dec("77.77"),
		SellerTier:    models.TierFree,
		BuyerTier:     models.TierPremium,
		MinCommission: dec("1.00"),
	}
	first := commission.ComputeSplit(in)
	time.Sleep(time.Millisecond)
	second := commission.ComputeSplit(in)

	assert.Equal(t, first.Rate.String(), second.Rate.String())
	assert.Equal(t, first.CommissionAmount.String(), second.CommissionAmount.String())
	assert.Equal(t, first.SellerReceives.String(), second.SellerReceives.String())
	assert.Equal(t, first.CashbackAmount.String(), second.CashbackAmount.String())
}

func TestWindow_Active(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	w := commission.Window{Start: start, End: end}

	assert.False(t, w.Active(start.Add(-time.Second)))
	assert.True(t, w.Active(start))
	assert.True(t, w.Active(end.Add(-time.Second)))
	assert.False(t, w.Active(end), "end is exclusive")

	assert.False(t, commission.Window{}.Active(start), "empty window disables promo")
	assert.True(t, commission.Window{End: end}.Active(start))
	assert.True(t, commission.Window{Start: start}.Active(end.Add(24*time.Hour)))
}
