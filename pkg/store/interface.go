package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adelantofin/adelanto/pkg/models"
)

var (
	ErrMerchantNotFound = errors.New("merchant not found")
	ErrLoanNotFound     = errors.New("loan not found")
)

// DashboardStats are the aggregate figures behind the admin dashboard.
type DashboardStats struct {
	ActiveLoans  int             `json:"active_loans"`
	TotalCapital decimal.Decimal `json:"total_capital"`
	TotalRepaid  decimal.Decimal `json:"total_repaid"`
}

// Storage is the persistence boundary. The engine treats it as the single
// source of truth and never caches records across operations.
type Storage interface {
	CreateMerchant(m *models.Merchant) error
	GetMerchant(id uuid.UUID) (*models.Merchant, error)
	UpdateMerchantRevenue(id uuid.UUID, sixMonth, monthly, daily decimal.Decimal, syncedAt time.Time) error
	UpdateMerchantStatus(id uuid.UUID, status models.MerchantStatus) error

	CreateLoan(loan *models.Loan) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	UpdateLoan(loan *models.Loan) error
	GetActiveLoans() ([]*models.Loan, error)
	// GetActiveLoanForMerchant returns (nil, nil) when the merchant has no
	// active loan.
	GetActiveLoanForMerchant(merchantID uuid.UUID) (*models.Loan, error)

	// GetPayment returns (nil, nil) when no record exists for that day.
	GetPayment(loanID uuid.UUID, day time.Time) (*models.Payment, error)
	GetRecentPayments(loanID uuid.UUID, limit int) ([]*models.Payment, error)
	// ApplyPayment persists an updated loan together with its per-day
	// payment record in a single transaction.
	ApplyPayment(loan *models.Loan, payment *models.Payment) error

	UpsertDailySales(s *models.DailySales) error
	// GetDailySales returns (nil, nil) when no record exists for that day.
	GetDailySales(merchantID uuid.UUID, day time.Time) (*models.DailySales, error)
	SumDailySales(merchantID uuid.UUID, from time.Time) (decimal.Decimal, error)

	CreateAuditLog(entry *models.AuditLog) error

	DashboardStats() (*DashboardStats, error)

	Close() error
}
