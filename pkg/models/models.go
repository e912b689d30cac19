package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MerchantStatus is the lifecycle state of a merchant account.
type MerchantStatus string

const (
	MerchantPending   MerchantStatus = "pending"
	MerchantActive    MerchantStatus = "active"
	MerchantSuspended MerchantStatus = "suspended"
)

// LoanStatus is the lifecycle state of a loan. PAID is terminal.
type LoanStatus string

const (
	LoanActive LoanStatus = "ACTIVE"
	LoanPaid   LoanStatus = "PAID"
)

// Merchant is owned by the registration subsystem; this service only reads
// its status and revenue figures and updates the derived revenue fields
// after a sales sync.
type Merchant struct {
	ID              uuid.UUID       `json:"id"`
	BusinessName    string          `json:"business_name"`
	Email           string          `json:"email"`
	Status          MerchantStatus  `json:"status"`
	SixMonthRevenue decimal.Decimal `json:"six_month_revenue"`
	MonthlyRevenue  decimal.Decimal `json:"monthly_revenue"` // six-month revenue / 6
	DailyRevenue    decimal.Decimal `json:"daily_revenue"`   // monthly revenue / 30
	LastSalesSync   *time.Time      `json:"last_sales_sync,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type Loan struct {
	ID               uuid.UUID       `json:"id"`
	MerchantID       uuid.UUID       `json:"merchant_id"`
	CapitalAmount    decimal.Decimal `json:"capital_amount"`
	TotalToRepay     decimal.Decimal `json:"total_to_repay"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	PlanDays         int             `json:"plan_days"`
	PeriodRate       decimal.Decimal `json:"period_rate"`
	DailyPercentage  decimal.Decimal `json:"daily_percentage"` // fraction of daily sales retained
	Status           LoanStatus      `json:"status"`
	StartDate        time.Time       `json:"start_date"`
	EndDate          *time.Time      `json:"end_date,omitempty"` // set when the loan is paid off
	// LastSettlementDate records the last calendar day the daily batch
	// settled this loan, so a re-run for the same day is a no-op.
	LastSettlementDate *time.Time `json:"last_settlement_date,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Payment is the single collection record for a (loan, calendar day) pair.
// Automatic settlement overwrites AutoAmount; manual payments accumulate
// into ManualAmount. Amount is the combined day total.
type Payment struct {
	ID           uuid.UUID       `json:"id"`
	LoanID       uuid.UUID       `json:"loan_id"`
	Date         time.Time       `json:"date"` // UTC midnight
	Amount       decimal.Decimal `json:"amount"`
	AutoAmount   decimal.Decimal `json:"auto_amount"`
	ManualAmount decimal.Decimal `json:"manual_amount"`
	Reference    string          `json:"reference,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// DailySales is the aggregated gross revenue a merchant captured on one
// calendar day, keyed uniquely by (merchant, day). Supplied by the
// revenue-sync subsystem; read-only input here.
type DailySales struct {
	MerchantID  uuid.UUID       `json:"merchant_id"`
	Date        time.Time       `json:"date"`
	GrossAmount decimal.Decimal `json:"gross_amount"`
	OrdersCount int             `json:"orders_count"`
	Source      string          `json:"source,omitempty"`
}

// AuditLog is a write-only observability record; nothing in the engine
// reads it back.
type AuditLog struct {
	ID         uuid.UUID `json:"id"`
	Action     string    `json:"action"`
	MerchantID uuid.UUID `json:"merchant_id"`
	Details    string    `json:"details"` // JSON payload
	CreatedAt  time.Time `json:"created_at"`
}

// DayOf truncates t to its UTC calendar day. Every per-day key in the
// system (payments, daily sales, settlement marker) goes through this.
func DayOf(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
