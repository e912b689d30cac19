// Package revenue recomputes a merchant's derived revenue figures from
// the trailing six months of daily sales, the way the sales-sync side of
// the system would after importing orders.
package revenue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adelantofin/adelanto/pkg/models"
	"github.com/adelantofin/adelanto/pkg/pricing"
	"github.com/adelantofin/adelanto/pkg/store"
)

type Calculator struct {
	storage store.Storage
	log     *zap.Logger
	now     func() time.Time
}

func NewCalculator(storage store.Storage, log *zap.Logger) *Calculator {
	return &Calculator{storage: storage, log: log, now: time.Now}
}

// Recalculate sums the merchant's gross sales over the trailing six
// months and persists the derived monthly (/6) and daily (/30) revenue.
// A pending merchant with revenue becomes active.
func (c *Calculator) Recalculate(merchantID uuid.UUID) error {
	now := c.now().UTC()
	since := now.AddDate(0, -6, 0)

	sixMonth, err := c.storage.SumDailySales(merchantID, since)
	if err != nil {
		return fmt.Errorf("failed to sum sales: %w", err)
	}

	monthly := pricing.MonthlyRevenueFrom(sixMonth)
	daily := pricing.DailyRevenueFrom(monthly)

	if err := c.storage.UpdateMerchantRevenue(merchantID, sixMonth, monthly, daily, now); err != nil {
		return err
	}

	merchant, err := c.storage.GetMerchant(merchantID)
	if err != nil {
		return err
	}
	if merchant.Status == models.MerchantPending && !monthly.IsZero() {
		if err := c.storage.UpdateMerchantStatus(merchantID, models.MerchantActive); err != nil {
			return err
		}
	}

	c.log.Info("merchant revenue updated",
		zap.String("merchant_id", merchantID.String()),
		zap.String("six_month_revenue", sixMonth.StringFixed(2)),
		zap.String("monthly_revenue", monthly.StringFixed(2)))
	return nil
}
