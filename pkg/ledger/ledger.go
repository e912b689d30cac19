// Package ledger owns all mutation of loans and their per-day payment
// records: origination, manual payments, and the per-loan application of
// the daily settlement. Every balance write happens under a per-loan
// mutex, and the loan plus its payment row are persisted in a single
// store transaction.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/adelantofin/adelanto/pkg/audit"
	"github.com/adelantofin/adelanto/pkg/metrics"
	"github.com/adelantofin/adelanto/pkg/models"
	"github.com/adelantofin/adelanto/pkg/pricing"
	"github.com/adelantofin/adelanto/pkg/store"
)

var (
	ErrLoanNotActive     = errors.New("loan is not active")
	ErrLoanNotAccessible = errors.New("loan not found or not accessible")
)

// Ledger handles the business logic for loans and payments.
type Ledger struct {
	storage store.Storage
	pricer  *pricing.Engine
	auditor *audit.Recorder
	log     *zap.Logger
	locks   *keyedMutex
	now     func() time.Time
}

// NewLedger creates a Ledger over a Storage implementation.
func NewLedger(s store.Storage, pricer *pricing.Engine, auditor *audit.Recorder, log *zap.Logger) *Ledger {
	return &Ledger{
		storage: s,
		pricer:  pricer,
		auditor: auditor,
		log:     log,
		locks:   newKeyedMutex(),
		now:     time.Now,
	}
}

// GetOffer builds the merchant's current pre-offer across all plan
// lengths. Fails with ErrNoRevenueData when the merchant has no synced
// revenue yet.
func (l *Ledger) GetOffer(merchantID uuid.UUID) (*pricing.Offer, error) {
	merchant, err := l.storage.GetMerchant(merchantID)
	if err != nil {
		return nil, err
	}
	if merchant.MonthlyRevenue.IsZero() {
		return nil, pricing.ErrNoRevenueData
	}

	offer := l.pricer.BuildOffer(merchant.MonthlyRevenue, dailyRevenueOf(merchant))
	return &offer, nil
}

// OriginateLoan creates a loan for the merchant. The eligibility check and
// the insert run under the merchant's mutex, so two concurrent requests
// cannot both pass the "no active loan" check.
func (l *Ledger) OriginateLoan(merchantID uuid.UUID, planDays int, desiredAmount *decimal.Decimal) (*models.Loan, error) {
	defer l.locks.lock("merchant:" + merchantID.String())()

	merchant, err := l.storage.GetMerchant(merchantID)
	if err != nil {
		return nil, err
	}

	if err := l.pricer.ValidatePlanDays(planDays); err != nil {
		return nil, err
	}

	active, err := l.storage.GetActiveLoanForMerchant(merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active loans: %w", err)
	}
	if err := l.pricer.CanOriginate(merchant.Status, merchant.MonthlyRevenue, active != nil); err != nil {
		return nil, err
	}

	maxCapital := l.pricer.MaxCapital(merchant.MonthlyRevenue)
	capital := maxCapital
	if desiredAmount != nil {
		if err := l.pricer.ValidateDesiredAmount(*desiredAmount, maxCapital); err != nil {
			return nil, err
		}
		capital = *desiredAmount
	}

	plan := l.pricer.BuildPlan(capital, dailyRevenueOf(merchant), planDays)
	now := l.now()

	loan := &models.Loan{
		ID:               uuid.New(),
		MerchantID:       merchantID,
		CapitalAmount:    capital,
		TotalToRepay:     plan.TotalToRepay,
		RemainingBalance: plan.TotalToRepay,
		PlanDays:         planDays,
		PeriodRate:       plan.PeriodRate,
		DailyPercentage:  plan.DailyPercentage,
		Status:           models.LoanActive,
		StartDate:        now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := l.storage.CreateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	metrics.LoansOriginated.Inc()
	l.auditor.Record("loan_created", merchantID, map[string]interface{}{
		"loan_id":   loan.ID.String(),
		"capital":   capital.String(),
		"total":     plan.TotalToRepay.String(),
		"plan_days": planDays,
	})
	l.log.Info("loan originated",
		zap.String("loan_id", loan.ID.String()),
		zap.String("merchant_id", merchantID.String()),
		zap.String("capital", capital.StringFixed(2)),
		zap.String("total_to_repay", plan.TotalToRepay.StringFixed(2)),
		zap.Int("plan_days", planDays))

	return loan, nil
}

// RecordManualPayment applies a manual payment to an active loan for
// today's UTC calendar day. The amount is clamped to the remaining
// balance; any excess is discarded, not carried forward.
func (l *Ledger) RecordManualPayment(loanID, merchantID uuid.UUID, amount decimal.Decimal, reference string) (*models.Payment, error) {
	defer l.locks.lock("loan:" + loanID.String())()

	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.MerchantID != merchantID {
		return nil, ErrLoanNotAccessible
	}
	if loan.Status != models.LoanActive {
		return nil, ErrLoanNotActive
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, pricing.ErrInvalidAmount
	}

	effective := amount
	if effective.GreaterThan(loan.RemainingBalance) {
		effective = loan.RemainingBalance
	}

	now := l.now()
	day := models.DayOf(now)

	payment, err := l.storage.GetPayment(loanID, day)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		payment = &models.Payment{
			ID:           uuid.New(),
			LoanID:       loanID,
			Date:         day,
			Amount:       effective,
			AutoAmount:   decimal.Zero,
			ManualAmount: effective,
			Reference:    reference,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	} else {
		payment.ManualAmount = payment.ManualAmount.Add(effective)
		payment.Amount = payment.Amount.Add(effective)
		payment.Reference = reference
		payment.UpdatedAt = now
	}

	loan.RemainingBalance = decimal.Max(loan.RemainingBalance.Sub(effective), decimal.Zero)
	loan.UpdatedAt = now
	if loan.RemainingBalance.IsZero() {
		loan.Status = models.LoanPaid
		loan.EndDate = &now
	}

	if err := l.storage.ApplyPayment(loan, payment); err != nil {
		return nil, fmt.Errorf("failed to apply manual payment: %w", err)
	}

	metrics.ManualPaymentsRecorded.Inc()
	l.auditor.Record("manual_payment", merchantID, map[string]interface{}{
		"loan_id":   loanID.String(),
		"amount":    effective.String(),
		"reference": reference,
	})
	l.log.Info("manual payment recorded",
		zap.String("loan_id", loanID.String()),
		zap.String("amount", effective.StringFixed(2)),
		zap.String("remaining_balance", loan.RemainingBalance.StringFixed(2)),
		zap.String("status", string(loan.Status)))

	return payment, nil
}

// SettleLoanDay applies the daily settlement for one loan and calendar
// day: the automatic share of that day's gross sales merged with any
// manual amount already recorded, clamped to the remaining balance.
// Returns false without error when nothing was applied because the loan
// was already settled for that day or is no longer active.
func (l *Ledger) SettleLoanDay(loanID uuid.UUID, day time.Time, grossSales decimal.Decimal) (bool, error) {
	defer l.locks.lock("loan:" + loanID.String())()

	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return false, err
	}
	if loan.Status != models.LoanActive {
		return false, nil
	}
	if loan.LastSettlementDate != nil && models.DayOf(*loan.LastSettlementDate).Equal(day) {
		l.log.Debug("loan already settled for day, skipping",
			zap.String("loan_id", loanID.String()), zap.Time("day", day))
		return false, nil
	}

	autoAmount := l.pricer.AutoPayment(grossSales, loan.DailyPercentage)

	payment, err := l.storage.GetPayment(loanID, day)
	if err != nil {
		return false, err
	}
	manualAmount := decimal.Zero
	if payment != nil {
		manualAmount = payment.ManualAmount
	}

	total := autoAmount.Add(manualAmount)
	if total.GreaterThan(loan.RemainingBalance) {
		total = loan.RemainingBalance
	}

	now := l.now()
	if payment == nil {
		payment = &models.Payment{
			ID:           uuid.New(),
			LoanID:       loanID,
			Date:         day,
			Amount:       total,
			AutoAmount:   autoAmount,
			ManualAmount: decimal.Zero,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	} else {
		// manualAmount is preserved as the ledger holds it; the engine
		// never re-derives it.
		payment.AutoAmount = autoAmount
		payment.Amount = total
		payment.UpdatedAt = now
	}

	loan.RemainingBalance = decimal.Max(loan.RemainingBalance.Sub(total), decimal.Zero)
	loan.UpdatedAt = now
	loan.LastSettlementDate = &day
	if loan.RemainingBalance.IsZero() {
		loan.Status = models.LoanPaid
		loan.EndDate = &now
	}

	if err := l.storage.ApplyPayment(loan, payment); err != nil {
		return false, fmt.Errorf("failed to apply settlement: %w", err)
	}

	repaid := loan.TotalToRepay.Sub(loan.RemainingBalance)
	l.log.Info("loan settled",
		zap.String("loan_id", loanID.String()),
		zap.Time("day", day),
		zap.String("auto", autoAmount.StringFixed(2)),
		zap.String("manual", manualAmount.StringFixed(2)),
		zap.String("total", total.StringFixed(2)),
		zap.String("remaining_balance", loan.RemainingBalance.StringFixed(2)),
		zap.String("percent_paid", l.pricer.RepaymentProgress(repaid, loan.TotalToRepay).StringFixed(1)),
		zap.String("status", string(loan.Status)))

	return true, nil
}

// LoanDetails is a loan with its recent payment history and repayment
// progress.
type LoanDetails struct {
	Loan        *models.Loan      `json:"loan"`
	Payments    []*models.Payment `json:"payments"`
	PercentPaid decimal.Decimal   `json:"percent_paid"`
}

// GetLoanDetails returns the loan with its last payments, guarding the
// merchant/loan relationship.
func (l *Ledger) GetLoanDetails(loanID, merchantID uuid.UUID) (*LoanDetails, error) {
	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.MerchantID != merchantID {
		return nil, ErrLoanNotAccessible
	}

	payments, err := l.storage.GetRecentPayments(loanID, 30)
	if err != nil {
		return nil, err
	}

	repaid := loan.TotalToRepay.Sub(loan.RemainingBalance)
	return &LoanDetails{
		Loan:        loan,
		Payments:    payments,
		PercentPaid: l.pricer.RepaymentProgress(repaid, loan.TotalToRepay),
	}, nil
}

// dailyRevenueOf falls back to monthlyRevenue/30 when the stored daily
// figure has not been derived yet.
func dailyRevenueOf(m *models.Merchant) decimal.Decimal {
	if !m.DailyRevenue.IsZero() {
		return m.DailyRevenue
	}
	return pricing.DailyRevenueFrom(m.MonthlyRevenue)
}
