package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/adelantofin/adelanto/pkg/models"
)

// Validation errors are caller-facing and non-retriable until the
// underlying condition changes.
var (
	ErrMerchantNotActive = errors.New("merchant is not active")
	ErrNoRevenueData     = errors.New("no sales data for merchant")
	ErrActiveLoanExists  = errors.New("merchant already has an active loan")
	ErrInvalidPlan       = errors.New("plan must be 120 or 180 days")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrAmountExceedsMax  = errors.New("amount exceeds maximum capital")
)

// CanOriginate checks merchant eligibility for a new loan.
func (e *Engine) CanOriginate(status models.MerchantStatus, monthlyRevenue decimal.Decimal, hasActiveLoan bool) error {
	if status != models.MerchantActive {
		return ErrMerchantNotActive
	}
	if monthlyRevenue.IsZero() {
		return ErrNoRevenueData
	}
	if hasActiveLoan {
		return ErrActiveLoanExists
	}
	return nil
}

// ValidatePlanDays accepts only the configured plan lengths.
func (e *Engine) ValidatePlanDays(planDays int) error {
	for _, d := range e.cfg.PlanDays {
		if d == planDays {
			return nil
		}
	}
	return ErrInvalidPlan
}

// ValidateDesiredAmount checks a requested capital against the merchant's
// current maximum.
func (e *Engine) ValidateDesiredAmount(desired, maxCapital decimal.Decimal) error {
	if desired.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	if desired.GreaterThan(maxCapital) {
		return ErrAmountExceedsMax
	}
	return nil
}
