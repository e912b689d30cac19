package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adelantofin/adelanto/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
// Decimal fields are stored as TEXT so no precision is lost.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the schema.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Manually enable foreign keys and WAL mode
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS merchants (
		id TEXT PRIMARY KEY,
		business_name TEXT NOT NULL,
		email TEXT NOT NULL,
		status TEXT NOT NULL,
		six_month_revenue TEXT NOT NULL DEFAULT '0',
		monthly_revenue TEXT NOT NULL DEFAULT '0',
		daily_revenue TEXT NOT NULL DEFAULT '0',
		last_sales_sync DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		merchant_id TEXT NOT NULL,
		capital_amount TEXT NOT NULL,
		total_to_repay TEXT NOT NULL,
		remaining_balance TEXT NOT NULL,
		plan_days INTEGER NOT NULL,
		period_rate TEXT NOT NULL,
		daily_percentage TEXT NOT NULL,
		status TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		end_date DATETIME,
		last_settlement_date DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(merchant_id) REFERENCES merchants(id)
	);
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		date DATETIME NOT NULL,
		amount TEXT NOT NULL,
		auto_amount TEXT NOT NULL,
		manual_amount TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(loan_id, date),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS daily_sales (
		merchant_id TEXT NOT NULL,
		date DATETIME NOT NULL,
		gross_amount TEXT NOT NULL,
		orders_count INTEGER NOT NULL DEFAULT 0,
		source TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (merchant_id, date),
		FOREIGN KEY(merchant_id) REFERENCES merchants(id)
	);
	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		merchant_id TEXT NOT NULL,
		details TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- merchants ---

func (s *SQLiteStore) CreateMerchant(m *models.Merchant) error {
	_, err := s.db.Exec(
		`INSERT INTO merchants (id, business_name, email, status, six_month_revenue, monthly_revenue, daily_revenue, last_sales_sync, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.BusinessName, m.Email, string(m.Status),
		m.SixMonthRevenue, m.MonthlyRevenue, m.DailyRevenue,
		m.LastSalesSync, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create merchant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMerchant(id uuid.UUID) (*models.Merchant, error) {
	row := s.db.QueryRow(
		`SELECT id, business_name, email, status, six_month_revenue, monthly_revenue, daily_revenue, last_sales_sync, created_at, updated_at
		FROM merchants WHERE id = ?`, id.String())

	var m models.Merchant
	var idStr, status string
	var lastSync sql.NullTime
	err := row.Scan(&idStr, &m.BusinessName, &m.Email, &status,
		&m.SixMonthRevenue, &m.MonthlyRevenue, &m.DailyRevenue,
		&lastSync, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrMerchantNotFound
		}
		return nil, fmt.Errorf("failed to get merchant: %w", err)
	}
	m.ID = uuid.MustParse(idStr)
	m.Status = models.MerchantStatus(status)
	if lastSync.Valid {
		m.LastSalesSync = &lastSync.Time
	}
	return &m, nil
}

func (s *SQLiteStore) UpdateMerchantRevenue(id uuid.UUID, sixMonth, monthly, daily decimal.Decimal, syncedAt time.Time) error {
	result, err := s.db.Exec(
		`UPDATE merchants SET six_month_revenue = ?, monthly_revenue = ?, daily_revenue = ?, last_sales_sync = ?, updated_at = ? WHERE id = ?`,
		sixMonth, monthly, daily, syncedAt, time.Now().UTC(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update merchant revenue: %w", err)
	}
	return requireRow(result, ErrMerchantNotFound)
}

func (s *SQLiteStore) UpdateMerchantStatus(id uuid.UUID, status models.MerchantStatus) error {
	result, err := s.db.Exec(
		`UPDATE merchants SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update merchant status: %w", err)
	}
	return requireRow(result, ErrMerchantNotFound)
}

// --- loans ---

const loanColumns = `id, merchant_id, capital_amount, total_to_repay, remaining_balance, plan_days, period_rate, daily_percentage, status, start_date, end_date, last_settlement_date, created_at, updated_at`

func (s *SQLiteStore) CreateLoan(loan *models.Loan) error {
	_, err := s.db.Exec(
		`INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.MerchantID.String(),
		loan.CapitalAmount, loan.TotalToRepay, loan.RemainingBalance,
		loan.PlanDays, loan.PeriodRate, loan.DailyPercentage,
		string(loan.Status), loan.StartDate, loan.EndDate,
		loan.LastSettlementDate, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

func (s *SQLiteStore) UpdateLoan(loan *models.Loan) error {
	result, err := s.db.Exec(loanUpdateSQL, loanUpdateArgs(loan)...)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	return requireRow(result, ErrLoanNotFound)
}

const loanUpdateSQL = `UPDATE loans SET remaining_balance = ?, status = ?, end_date = ?, last_settlement_date = ?, updated_at = ? WHERE id = ?`

func loanUpdateArgs(loan *models.Loan) []interface{} {
	return []interface{}{
		loan.RemainingBalance, string(loan.Status), loan.EndDate,
		loan.LastSettlementDate, loan.UpdatedAt, loan.ID.String(),
	}
}

func (s *SQLiteStore) GetActiveLoans() ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT `+loanColumns+` FROM loans WHERE status = ?`, string(models.LoanActive))
	if err != nil {
		return nil, fmt.Errorf("failed to get active loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

func (s *SQLiteStore) GetActiveLoanForMerchant(merchantID uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(
		`SELECT `+loanColumns+` FROM loans WHERE merchant_id = ? AND status = ? LIMIT 1`,
		merchantID.String(), string(models.LoanActive))
	loan, err := scanLoan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active loan for merchant: %w", err)
	}
	return loan, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr, merchantIDStr, status string
	var endDate, lastSettlement sql.NullTime
	err := row.Scan(&idStr, &merchantIDStr,
		&loan.CapitalAmount, &loan.TotalToRepay, &loan.RemainingBalance,
		&loan.PlanDays, &loan.PeriodRate, &loan.DailyPercentage,
		&status, &loan.StartDate, &endDate, &lastSettlement,
		&loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	loan.ID = uuid.MustParse(idStr)
	loan.MerchantID = uuid.MustParse(merchantIDStr)
	loan.Status = models.LoanStatus(status)
	if endDate.Valid {
		loan.EndDate = &endDate.Time
	}
	if lastSettlement.Valid {
		loan.LastSettlementDate = &lastSettlement.Time
	}
	return &loan, nil
}

// --- payments ---

func (s *SQLiteStore) GetPayment(loanID uuid.UUID, day time.Time) (*models.Payment, error) {
	row := s.db.QueryRow(
		`SELECT id, loan_id, date, amount, auto_amount, manual_amount, reference, created_at, updated_at
		FROM payments WHERE loan_id = ? AND date = ?`,
		loanID.String(), day)
	p, err := scanPayment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) GetRecentPayments(loanID uuid.UUID, limit int) ([]*models.Payment, error) {
	rows, err := s.db.Query(
		`SELECT id, loan_id, date, amount, auto_amount, manual_amount, reference, created_at, updated_at
		FROM payments WHERE loan_id = ? ORDER BY date DESC LIMIT ?`,
		loanID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return payments, nil
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var p models.Payment
	var idStr, loanIDStr string
	err := row.Scan(&idStr, &loanIDStr, &p.Date,
		&p.Amount, &p.AutoAmount, &p.ManualAmount,
		&p.Reference, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.ID = uuid.MustParse(idStr)
	p.LoanID = uuid.MustParse(loanIDStr)
	return &p, nil
}

const upsertPaymentSQL = `
	INSERT INTO payments (id, loan_id, date, amount, auto_amount, manual_amount, reference, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(loan_id, date) DO UPDATE SET
		amount = excluded.amount,
		auto_amount = excluded.auto_amount,
		manual_amount = excluded.manual_amount,
		reference = excluded.reference,
		updated_at = excluded.updated_at`

func paymentArgs(p *models.Payment) []interface{} {
	return []interface{}{
		p.ID.String(), p.LoanID.String(), p.Date,
		p.Amount, p.AutoAmount, p.ManualAmount,
		p.Reference, p.CreatedAt, p.UpdatedAt,
	}
}

// ApplyPayment writes the updated loan and its per-day payment record in a
// single transaction, so a crash leaves either both applied or neither.
func (s *SQLiteStore) ApplyPayment(loan *models.Loan, payment *models.Payment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(loanUpdateSQL, loanUpdateArgs(loan)...)
	if err != nil {
		return fmt.Errorf("failed to update loan balance: %w", err)
	}
	if err := requireRow(result, ErrLoanNotFound); err != nil {
		return err
	}

	if _, err := tx.Exec(upsertPaymentSQL, paymentArgs(payment)...); err != nil {
		return fmt.Errorf("failed to upsert payment: %w", err)
	}

	return tx.Commit()
}

// --- daily sales ---

func (s *SQLiteStore) UpsertDailySales(ds *models.DailySales) error {
	_, err := s.db.Exec(
		`INSERT INTO daily_sales (merchant_id, date, gross_amount, orders_count, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(merchant_id, date) DO UPDATE SET
			gross_amount = excluded.gross_amount,
			orders_count = excluded.orders_count,
			source = excluded.source`,
		ds.MerchantID.String(), ds.Date, ds.GrossAmount, ds.OrdersCount, ds.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily sales: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDailySales(merchantID uuid.UUID, day time.Time) (*models.DailySales, error) {
	row := s.db.QueryRow(
		`SELECT merchant_id, date, gross_amount, orders_count, source
		FROM daily_sales WHERE merchant_id = ? AND date = ?`,
		merchantID.String(), day)

	var ds models.DailySales
	var merchantIDStr string
	err := row.Scan(&merchantIDStr, &ds.Date, &ds.GrossAmount, &ds.OrdersCount, &ds.Source)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get daily sales: %w", err)
	}
	ds.MerchantID = uuid.MustParse(merchantIDStr)
	return &ds, nil
}

// SumDailySales totals a merchant's gross sales from a date onward. The
// accumulation happens in Go because the amounts live as TEXT; SQL SUM
// would coerce them to floats.
func (s *SQLiteStore) SumDailySales(merchantID uuid.UUID, from time.Time) (decimal.Decimal, error) {
	rows, err := s.db.Query(
		`SELECT gross_amount FROM daily_sales WHERE merchant_id = ? AND date >= ?`,
		merchantID.String(), from)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum daily sales: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan sales row: %w", err)
		}
		total = total.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error during rows iteration: %w", err)
	}
	return total, nil
}

// --- audit ---

func (s *SQLiteStore) CreateAuditLog(entry *models.AuditLog) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_logs (id, action, merchant_id, details, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.Action, entry.MerchantID.String(), entry.Details, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// --- admin ---

func (s *SQLiteStore) DashboardStats() (*DashboardStats, error) {
	stats := &DashboardStats{TotalCapital: decimal.Zero, TotalRepaid: decimal.Zero}

	row := s.db.QueryRow(`SELECT COUNT(*) FROM loans WHERE status = ?`, string(models.LoanActive))
	if err := row.Scan(&stats.ActiveLoans); err != nil {
		return nil, fmt.Errorf("failed to count active loans: %w", err)
	}

	capital, err := s.sumColumn(`SELECT capital_amount FROM loans`)
	if err != nil {
		return nil, err
	}
	stats.TotalCapital = capital

	repaid, err := s.sumColumn(`SELECT amount FROM payments`)
	if err != nil {
		return nil, err
	}
	stats.TotalRepaid = repaid

	return stats, nil
}

func (s *SQLiteStore) sumColumn(query string) (decimal.Decimal, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query totals: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan total row: %w", err)
		}
		total = total.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error during rows iteration: %w", err)
	}
	return total, nil
}

func requireRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
