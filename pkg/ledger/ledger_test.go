package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adelantofin/adelanto/pkg/audit"
	"github.com/adelantofin/adelanto/pkg/models"
	"github.com/adelantofin/adelanto/pkg/pricing"
	"github.com/adelantofin/adelanto/pkg/store"
)

// mockStore is a simple in-memory implementation of the Storage interface.
type mockStore struct {
	mu        sync.Mutex
	merchants map[uuid.UUID]*models.Merchant
	loans     map[uuid.UUID]*models.Loan
	payments  map[string]*models.Payment
	sales     map[string]*models.DailySales
	audits    []*models.AuditLog
}

func newMockStore() *mockStore {
	return &mockStore{
		merchants: make(map[uuid.UUID]*models.Merchant),
		loans:     make(map[uuid.UUID]*models.Loan),
		payments:  make(map[string]*models.Payment),
		sales:     make(map[string]*models.DailySales),
	}
}

func paymentKey(loanID uuid.UUID, day time.Time) string {
	return loanID.String() + "|" + day.UTC().Format("2006-01-02")
}

func salesKey(merchantID uuid.UUID, day time.Time) string {
	return merchantID.String() + "|" + day.UTC().Format("2006-01-02")
}

func (m *mockStore) CreateMerchant(mer *models.Merchant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *mer
	m.merchants[mer.ID] = &cp
	return nil
}

func (m *mockStore) GetMerchant(id uuid.UUID) (*models.Merchant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mer, ok := m.merchants[id]
	if !ok {
		return nil, store.ErrMerchantNotFound
	}
	cp := *mer
	return &cp, nil
}

func (m *mockStore) UpdateMerchantRevenue(id uuid.UUID, sixMonth, monthly, daily decimal.Decimal, syncedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mer, ok := m.merchants[id]
	if !ok {
		return store.ErrMerchantNotFound
	}
	mer.SixMonthRevenue, mer.MonthlyRevenue, mer.DailyRevenue = sixMonth, monthly, daily
	mer.LastSalesSync = &syncedAt
	return nil
}

func (m *mockStore) UpdateMerchantStatus(id uuid.UUID, status models.MerchantStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mer, ok := m.merchants[id]
	if !ok {
		return store.ErrMerchantNotFound
	}
	mer.Status = status
	return nil
}

func (m *mockStore) CreateLoan(loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *loan
	m.loans[loan.ID] = &cp
	return nil
}

func (m *mockStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[id]
	if !ok {
		return nil, store.ErrLoanNotFound
	}
	cp := *loan
	return &cp, nil
}

func (m *mockStore) UpdateLoan(loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *loan
	m.loans[loan.ID] = &cp
	return nil
}

func (m *mockStore) GetActiveLoans() ([]*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var loans []*models.Loan
	for _, l := range m.loans {
		if l.Status == models.LoanActive {
			cp := *l
			loans = append(loans, &cp)
		}
	}
	return loans, nil
}

func (m *mockStore) GetActiveLoanForMerchant(merchantID uuid.UUID) (*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.loans {
		if l.MerchantID == merchantID && l.Status == models.LoanActive {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockStore) GetPayment(loanID uuid.UUID, day time.Time) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentKey(loanID, day)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) GetRecentPayments(loanID uuid.UUID, limit int) ([]*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Payment
	for _, p := range m.payments {
		if p.LoanID == loanID && len(out) < limit {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) ApplyPayment(loan *models.Loan, payment *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lc := *loan
	m.loans[loan.ID] = &lc
	pc := *payment
	m.payments[paymentKey(payment.LoanID, payment.Date)] = &pc
	return nil
}

func (m *mockStore) UpsertDailySales(ds *models.DailySales) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ds
	m.sales[salesKey(ds.MerchantID, ds.Date)] = &cp
	return nil
}

func (m *mockStore) GetDailySales(merchantID uuid.UUID, day time.Time) (*models.DailySales, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.sales[salesKey(merchantID, day)]
	if !ok {
		return nil, nil
	}
	cp := *ds
	return &cp, nil
}

func (m *mockStore) SumDailySales(merchantID uuid.UUID, from time.Time) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, ds := range m.sales {
		if ds.MerchantID == merchantID && !ds.Date.Before(from) {
			total = total.Add(ds.GrossAmount)
		}
	}
	return total, nil
}

func (m *mockStore) CreateAuditLog(entry *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, entry)
	return nil
}

func (m *mockStore) DashboardStats() (*store.DashboardStats, error) {
	return &store.DashboardStats{}, nil
}

func (m *mockStore) Close() error { return nil }

// --- helpers ---

func newTestLedger(s store.Storage) *Ledger {
	log := zap.NewNop()
	return NewLedger(s, pricing.NewEngine(pricing.DefaultConfig()), audit.NewRecorder(s, log), log)
}

func activeMerchant(monthlyRevenue int64) *models.Merchant {
	monthly := decimal.NewFromInt(monthlyRevenue)
	return &models.Merchant{
		ID:              uuid.New(),
		BusinessName:    "Tienda Test",
		Email:           "test@example.com",
		Status:          models.MerchantActive,
		SixMonthRevenue: monthly.Mul(decimal.NewFromInt(6)),
		MonthlyRevenue:  monthly,
		DailyRevenue:    pricing.DailyRevenueFrom(monthly),
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
}

func TestOriginateLoan(t *testing.T) {
	ms := newMockStore()
	l := newTestLedger(ms)

	merchant := activeMerchant(300_000)
	require.NoError(t, ms.CreateMerchant(merchant))

	loan, err := l.OriginateLoan(merchant.ID, 120, nil)
	require.NoError(t, err)

	// 30% of monthly revenue, under the absolute cap.
	assert.True(t, loan.CapitalAmount.Equal(decimal.NewFromInt(90_000)),
		"expected capital 90000, got %s", loan.CapitalAmount)

	expectedRate := decimal.RequireFromString("0.80").
		Mul(decimal.NewFromInt(120)).
		Div(decimal.NewFromInt(365))
	assert.True(t, loan.PeriodRate.Equal(expectedRate))

	expectedTotal := loan.CapitalAmount.Mul(decimal.NewFromInt(1).Add(expectedRate))
	assert.True(t, loan.TotalToRepay.Equal(expectedTotal))
	assert.True(t, loan.RemainingBalance.Equal(expectedTotal))
	assert.Equal(t, models.LoanActive, loan.Status)
	assert.Nil(t, loan.EndDate)

	// dailyRevenue=10000: percentage is under the 10% cap, so not clamped.
	expectedPct := expectedTotal.Div(decimal.NewFromInt(10_000)).Div(decimal.NewFromInt(120))
	assert.True(t, loan.DailyPercentage.Equal(expectedPct))
	assert.True(t, loan.DailyPercentage.LessThanOrEqual(decimal.RequireFromString("0.10")))

	require.Len(t, ms.audits, 1)
	assert.Equal(t, "loan_created", ms.audits[0].Action)
}

func TestOriginateLoanDesiredAmount(t *testing.T) {
	ms := newMockStore()
	l := newTestLedger(ms)

	merchant := activeMerchant(300_000)
	require.NoError(t, ms.CreateMerchant(merchant))

	desired := decimal.NewFromInt(50_000)
	loan, err := l.OriginateLoan(merchant.ID, 180, &desired)
	require.NoError(t, err)
	assert.True(t, loan.CapitalAmount.Equal(desired))

	tooMuch := decimal.NewFromInt(90_001)
	_, err = l.OriginateLoan(merchant.ID, 180, &tooMuch)
	assert.ErrorIs(t, err, pricing.ErrActiveLoanExists) // first loan still active

	ms2 := newMockStore()
	l2 := newTestLedger(ms2)
	require.NoError(t, ms2.CreateMerchant(merchant))
	_, err = l2.OriginateLoan(merchant.ID, 180, &tooMuch)
	assert.ErrorIs(t, err, pricing.ErrAmountExceedsMax)

	negative := decimal.NewFromInt(-5)
	_, err = l2.OriginateLoan(merchant.ID, 180, &negative)
	assert.ErrorIs(t, err, pricing.ErrInvalidAmount)
}

func TestOriginateLoanValidation(t *testing.T) {
	ms := newMockStore()
	l := newTestLedger(ms)

	pending := activeMerchant(300_000)
	pending.Status = models.MerchantPending
	require.NoError(t, ms.CreateMerchant(pending))
	_, err := l.OriginateLoan(pending.ID, 120, nil)
	assert.ErrorIs(t, err, pricing.ErrMerchantNotActive)

	// No revenue data: no loan must be created.
	noRevenue := activeMerchant(0)
	require.NoError(t, ms.CreateMerchant(noRevenue))
	_, err = l.OriginateLoan(noRevenue.ID, 120, nil)
	assert.ErrorIs(t, err, pricing.ErrNoRevenueData)
	assert.Empty(t, ms.loans)

	ok := activeMerchant(300_000)
	require.NoError(t, ms.CreateMerchant(ok))
	_, err = l.OriginateLoan(ok.ID, 90, nil)
	assert.ErrorIs(t, err, pricing.ErrInvalidPlan)

	_, err = l.OriginateLoan(uuid.New(), 120, nil)
	assert.ErrorIs(t, err, store.ErrMerchantNotFound)

	_, err = l.OriginateLoan(ok.ID, 120, nil)
	require.NoError(t, err)
	_, err = l.OriginateLoan(ok.ID, 120, nil)
	assert.ErrorIs(t, err, pricing.ErrActiveLoanExists)
}

func TestRecordManualPaymentClamp(t *testing.T) {
	ms := newMockStore()
	l := newTestLedger(ms)

	fixed := time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	merchant := activeMerchant(300_000)
	require.NoError(t, ms.CreateMerchant(merchant))
	loan, err := l.OriginateLoan(merchant.ID, 120, nil)
	require.NoError(t, err)

	// Force a known balance for the clamping arithmetic.
	loan.RemainingBalance = decimal.NewFromInt(50_000)
	require.NoError(t, ms.UpdateLoan(loan))

	// First payment fits entirely.
	p, err := l.RecordManualPayment(loan.ID, merchant.ID, decimal.NewFromInt(30_000), "transfer-1")
	require.NoError(t, err)
	assert.True(t, p.ManualAmount.Equal(decimal.NewFromInt(30_000)))

	updated, _ := ms.GetLoan(loan.ID)
	assert.True(t, updated.RemainingBalance.Equal(decimal.NewFromInt(20_000)))
	assert.Equal(t, models.LoanActive, updated.Status)

	// Second payment exceeds what is owed: clamped to 20000, never negative.
	p, err = l.RecordManualPayment(loan.ID, merchant.ID, decimal.NewFromInt(30_000), "transfer-2")
	require.NoError(t, err)

	updated, _ = ms.GetLoan(loan.ID)
	assert.True(t, updated.RemainingBalance.IsZero())
	assert.Equal(t, models.LoanPaid, updated.Status)
	require.NotNil(t, updated.EndDate)

	// The day's single record accumulated both effective amounts.
	assert.True(t, p.ManualAmount.Equal(decimal.NewFromInt(50_000)))
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(50_000)))
	assert.Equal(t, "transfer-2", p.Reference)

	// Paid loans reject further payments.
	_, err = l.RecordManualPayment(loan.ID, merchant.ID, decimal.NewFromInt(1), "")
	assert.ErrorIs(t, err, ErrLoanNotActive)
}

func TestRecordManualPaymentValidation(t *testing.T) {
	ms := newMockStore()
	l := newTestLedger(ms)

	merchant := activeMerchant(300_000)
	require.NoError(t, ms.CreateMerchant(merchant))
	loan, err := l.OriginateLoan(merchant.ID, 120, nil)
	require.NoError(t, err)

	_, err = l.RecordManualPayment(loan.ID, merchant.ID, decimal.Zero, "")
	assert.ErrorIs(t, err, pricing.ErrInvalidAmount)

	_, err = l.RecordManualPayment(loan.ID, uuid.New(), decimal.NewFromInt(100), "")
	assert.ErrorIs(t, err, ErrLoanNotAccessible)

	_, err = l.RecordManualPayment(uuid.New(), merchant.ID, decimal.NewFromInt(100), "")
	assert.ErrorIs(t, err, store.ErrLoanNotFound)
}

func TestRecordManualPaymentConcurrent(t *testing.T) {
	ms := newMockStore()
	l := newTestLedger(ms)

	merchant := activeMerchant(300_000)
	require.NoError(t, ms.CreateMerchant(merchant))
	loan, err := l.OriginateLoan(merchant.ID, 120, nil)
	require.NoError(t, err)

	loan.RemainingBalance = decimal.NewFromInt(50_000)
	require.NoError(t, ms.UpdateLoan(loan))

	// Two concurrent payments of 30000 against 50000 owed. Serialized by
	// the per-loan lock, they must collect exactly 50000 in aggregate.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.RecordManualPayment(loan.ID, merchant.ID, decimal.NewFromInt(30_000), "race")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	updated, _ := ms.GetLoan(loan.ID)
	assert.True(t, updated.RemainingBalance.IsZero())
	assert.Equal(t, models.LoanPaid, updated.Status)

	day := models.DayOf(time.Now())
	p, err := ms.GetPayment(loan.ID, day)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.ManualAmount.Equal(decimal.NewFromInt(50_000)),
		"expected exactly 50000 collected, got %s", p.ManualAmount)
}

func TestSettleLoanDay(t *testing.T) {
	ms := newMockStore()
	l := newTestLedger(ms)

	merchant := activeMerchant(300_000)
	require.NoError(t, ms.CreateMerchant(merchant))
	loan, err := l.OriginateLoan(merchant.ID, 120, nil)
	require.NoError(t, err)

	day := models.DayOf(time.Now().AddDate(0, 0, -1))
	gross := decimal.NewFromInt(10_000)

	applied, err := l.SettleLoanDay(loan.ID, day, gross)
	require.NoError(t, err)
	assert.True(t, applied)

	expectedAuto := gross.Mul(loan.DailyPercentage)
	updated, _ := ms.GetLoan(loan.ID)
	assert.True(t, updated.RemainingBalance.Equal(loan.TotalToRepay.Sub(expectedAuto)))
	require.NotNil(t, updated.LastSettlementDate)
	assert.True(t, models.DayOf(*updated.LastSettlementDate).Equal(day))

	p, err := ms.GetPayment(loan.ID, day)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.AutoAmount.Equal(expectedAuto))
	assert.True(t, p.ManualAmount.IsZero())
	assert.True(t, p.Amount.Equal(expectedAuto))

	// Re-running the same day is a no-op.
	applied, err = l.SettleLoanDay(loan.ID, day, gross)
	require.NoError(t, err)
	assert.False(t, applied)

	again, _ := ms.GetLoan(loan.ID)
	assert.True(t, again.RemainingBalance.Equal(updated.RemainingBalance))
}

func TestSettleLoanDayMergesManualPayment(t *testing.T) {
	ms := newMockStore()
	l := newTestLedger(ms)

	merchant := activeMerchant(300_000)
	require.NoError(t, ms.CreateMerchant(merchant))
	loan, err := l.OriginateLoan(merchant.ID, 120, nil)
	require.NoError(t, err)

	day := models.DayOf(time.Now().AddDate(0, 0, -1))

	// A manual payment already recorded for the day, balance down to 40000.
	loan.RemainingBalance = decimal.NewFromInt(40_000)
	require.NoError(t, ms.UpdateLoan(loan))
	require.NoError(t, ms.ApplyPayment(loan, &models.Payment{
		ID:           uuid.New(),
		LoanID:       loan.ID,
		Date:         day,
		Amount:       decimal.NewFromInt(50_000),
		AutoAmount:   decimal.Zero,
		ManualAmount: decimal.NewFromInt(50_000),
	}))

	// No sales that day: auto=0, total=min(0+50000, 40000)=40000.
	applied, err := l.SettleLoanDay(loan.ID, day, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, applied)

	updated, _ := ms.GetLoan(loan.ID)
	assert.True(t, updated.RemainingBalance.IsZero())
	assert.Equal(t, models.LoanPaid, updated.Status)
	require.NotNil(t, updated.EndDate)

	p, _ := ms.GetPayment(loan.ID, day)
	assert.True(t, p.AutoAmount.IsZero())
	assert.True(t, p.ManualAmount.Equal(decimal.NewFromInt(50_000)))
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(40_000)))
}

func TestGetOffer(t *testing.T) {
	ms := newMockStore()
	l := newTestLedger(ms)

	merchant := activeMerchant(300_000)
	require.NoError(t, ms.CreateMerchant(merchant))

	offer, err := l.GetOffer(merchant.ID)
	require.NoError(t, err)
	require.Len(t, offer.Plans, 2)
	assert.True(t, offer.MaxCapital.Equal(decimal.NewFromInt(90_000)))
	// Both plans price the same capital.
	assert.True(t, offer.Plans[0].Capital.Equal(offer.Plans[1].Capital))

	empty := activeMerchant(0)
	require.NoError(t, ms.CreateMerchant(empty))
	_, err = l.GetOffer(empty.ID)
	assert.ErrorIs(t, err, pricing.ErrNoRevenueData)
}
