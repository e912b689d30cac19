// Package settlement drives the daily batch that reconciles every active
// loan against the previous day's sales and manual payments.
package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/adelantofin/adelanto/pkg/ledger"
	"github.com/adelantofin/adelanto/pkg/metrics"
	"github.com/adelantofin/adelanto/pkg/models"
	"github.com/adelantofin/adelanto/pkg/store"
)

const defaultWorkers = 4

// Engine runs the daily settlement batch. Per-loan work is independent
// and fans out over a bounded worker pool; the ledger serializes mutation
// per loan.
type Engine struct {
	storage store.Storage
	ledger  *ledger.Ledger
	log     *zap.Logger
	workers int
}

func NewEngine(storage store.Storage, l *ledger.Ledger, log *zap.Logger, workers int) *Engine {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Engine{storage: storage, ledger: l, log: log, workers: workers}
}

// Run settles every active loan for the calendar day before now (UTC).
// A failure to list active loans aborts the run; any other failure is
// scoped to its loan, logged, and skipped — the loan stays active and is
// picked up again on the next run.
func (e *Engine) Run(ctx context.Context, now time.Time) error {
	day := models.DayOf(now.AddDate(0, 0, -1))
	started := time.Now()

	loans, err := e.storage.GetActiveLoans()
	if err != nil {
		e.log.Error("settlement run aborted: cannot list active loans", zap.Error(err))
		return fmt.Errorf("listing active loans: %w", err)
	}

	e.log.Info("starting daily settlement",
		zap.Time("day", day),
		zap.Int("active_loans", len(loans)))

	jobs := make(chan *models.Loan)
	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for loan := range jobs {
				e.settleLoan(loan, day)
			}
		}()
	}

dispatch:
	for _, loan := range loans {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- loan:
		}
	}
	close(jobs)
	wg.Wait()

	metrics.SettlementRunDuration.Observe(time.Since(started).Seconds())
	e.log.Info("daily settlement completed",
		zap.Time("day", day),
		zap.Duration("elapsed", time.Since(started)))
	return ctx.Err()
}

func (e *Engine) settleLoan(loan *models.Loan, day time.Time) {
	if loan.LastSettlementDate != nil && models.DayOf(*loan.LastSettlementDate).Equal(day) {
		metrics.SettlementLoansProcessed.WithLabelValues("skipped").Inc()
		return
	}

	gross := decimal.Zero
	sales, err := e.storage.GetDailySales(loan.MerchantID, day)
	if err != nil {
		e.logLoanError(loan, day, "daily sales lookup failed", err)
		return
	}
	if sales != nil {
		gross = sales.GrossAmount
	}

	applied, err := e.ledger.SettleLoanDay(loan.ID, day, gross)
	if err != nil {
		e.logLoanError(loan, day, "settlement failed", err)
		return
	}
	if !applied {
		metrics.SettlementLoansProcessed.WithLabelValues("skipped").Inc()
		return
	}
	metrics.SettlementLoansProcessed.WithLabelValues("settled").Inc()
}

func (e *Engine) logLoanError(loan *models.Loan, day time.Time, msg string, err error) {
	metrics.SettlementLoansProcessed.WithLabelValues("failed").Inc()
	e.log.Error(msg,
		zap.String("loan_id", loan.ID.String()),
		zap.String("merchant_id", loan.MerchantID.String()),
		zap.Time("day", day),
		zap.Error(err))
}
