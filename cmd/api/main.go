package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/adelantofin/adelanto/pkg/audit"
	"github.com/adelantofin/adelanto/pkg/config"
	"github.com/adelantofin/adelanto/pkg/ledger"
	"github.com/adelantofin/adelanto/pkg/logger"
	"github.com/adelantofin/adelanto/pkg/models"
	"github.com/adelantofin/adelanto/pkg/pricing"
	"github.com/adelantofin/adelanto/pkg/revenue"
	"github.com/adelantofin/adelanto/pkg/settlement"
	"github.com/adelantofin/adelanto/pkg/store"
)

// Server wires the engine components behind the HTTP surface.
type Server struct {
	ledger  *ledger.Ledger
	settler *settlement.Engine
	revenue *revenue.Calculator
	storage store.Storage
	log     *zap.Logger
}

func NewServer(storage store.Storage, pricer *pricing.Engine, log *zap.Logger, workers int) *Server {
	auditor := audit.NewRecorder(storage, log)
	led := ledger.NewLedger(storage, pricer, auditor, log)
	return &Server{
		ledger:  led,
		settler: settlement.NewEngine(storage, led, log, workers),
		revenue: revenue.NewCalculator(storage, log),
		storage: storage,
		log:     log,
	}
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/merchants", s.createMerchantHandler).Methods("POST")
	r.HandleFunc("/merchants/{id}/sales", s.ingestSalesHandler).Methods("POST")
	r.HandleFunc("/merchants/{id}/offer", s.offerHandler).Methods("GET")
	r.HandleFunc("/merchants/{id}/loans", s.createLoanHandler).Methods("POST")
	r.HandleFunc("/merchants/{id}/loans/{loanId}", s.getLoanHandler).Methods("GET")
	r.HandleFunc("/merchants/{id}/loans/{loanId}/payments", s.recordPaymentHandler).Methods("POST")
	r.HandleFunc("/admin/dashboard", s.dashboardHandler).Methods("GET")
	r.HandleFunc("/admin/settlement/run", s.runSettlementHandler).Methods("POST")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return r
}

func (s *Server) createMerchantHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BusinessName string `json:"business_name"`
		Email        string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	merchant := &models.Merchant{
		ID:              uuid.New(),
		BusinessName:    req.BusinessName,
		Email:           req.Email,
		Status:          models.MerchantPending,
		SixMonthRevenue: decimal.Zero,
		MonthlyRevenue:  decimal.Zero,
		DailyRevenue:    decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.storage.CreateMerchant(merchant); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, merchant)
}

func (s *Server) ingestSalesHandler(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}

	var req struct {
		Date        string          `json:"date"` // YYYY-MM-DD
		GrossAmount decimal.Decimal `json:"gross_amount"`
		OrdersCount int             `json:"orders_count"`
		Source      string          `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	day, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	if _, err := s.storage.GetMerchant(merchantID); err != nil {
		s.writeError(w, err)
		return
	}

	sales := &models.DailySales{
		MerchantID:  merchantID,
		Date:        models.DayOf(day),
		GrossAmount: req.GrossAmount,
		OrdersCount: req.OrdersCount,
		Source:      req.Source,
	}
	if err := s.storage.UpsertDailySales(sales); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.revenue.Recalculate(merchantID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sales)
}

func (s *Server) offerHandler(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}

	offer, err := s.ledger.GetOffer(merchantID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, formatOffer(offer))
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}

	var req struct {
		PlanDays      int              `json:"plan_days"`
		DesiredAmount *decimal.Decimal `json:"desired_amount,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.OriginateLoan(merchantID, req.PlanDays, req.DesiredAmount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	merchantID, ok := parseID(w, vars["id"])
	if !ok {
		return
	}
	loanID, ok := parseID(w, vars["loanId"])
	if !ok {
		return
	}

	details, err := s.ledger.GetLoanDetails(loanID, merchantID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	merchantID, ok := parseID(w, vars["id"])
	if !ok {
		return
	}
	loanID, ok := parseID(w, vars["loanId"])
	if !ok {
		return
	}

	var req struct {
		Amount    decimal.Decimal `json:"amount"`
		Reference string          `json:"reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payment, err := s.ledger.RecordManualPayment(loanID, merchantID, req.Amount, req.Reference)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (s *Server) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.DashboardStats()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) runSettlementHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.settler.Run(r.Context(), time.Now()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// writeError maps domain errors to HTTP statuses; validation failures are
// 400, ownership/eligibility 403, missing records 404.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrMerchantNotFound), errors.Is(err, store.ErrLoanNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, pricing.ErrMerchantNotActive), errors.Is(err, ledger.ErrLoanNotAccessible):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, pricing.ErrNoRevenueData),
		errors.Is(err, pricing.ErrActiveLoanExists),
		errors.Is(err, pricing.ErrInvalidPlan),
		errors.Is(err, pricing.ErrInvalidAmount),
		errors.Is(err, pricing.ErrAmountExceedsMax),
		errors.Is(err, ledger.ErrLoanNotActive):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// offerResponse presents amounts with two decimals and rates in percent.
type offerResponse struct {
	MonthlyRevenue string              `json:"monthly_revenue"`
	MaxLoanCapital string              `json:"max_loan_capital"`
	Plans          []planOfferResponse `json:"plans"`
}

type planOfferResponse struct {
	PlanDays             int    `json:"plan_days"`
	Capital              string `json:"capital"`
	TotalToRepay         string `json:"total_to_repay"`
	PeriodRatePct        string `json:"period_rate_pct"`
	DailyPercentagePct   string `json:"daily_percentage_pct"`
	EstimatedDaysToRepay int    `json:"estimated_days_to_repay"`
}

var percent = decimal.NewFromInt(100)

func formatOffer(offer *pricing.Offer) offerResponse {
	resp := offerResponse{
		MonthlyRevenue: offer.MonthlyRevenue.StringFixed(2),
		MaxLoanCapital: offer.MaxCapital.StringFixed(2),
	}
	for _, p := range offer.Plans {
		resp.Plans = append(resp.Plans, planOfferResponse{
			PlanDays:             p.PlanDays,
			Capital:              p.Capital.StringFixed(2),
			TotalToRepay:         p.TotalToRepay.StringFixed(2),
			PeriodRatePct:        p.PeriodRate.Mul(percent).StringFixed(2),
			DailyPercentagePct:   p.DailyPercentage.Mul(percent).StringFixed(2),
			EstimatedDaysToRepay: p.EstimatedDaysToRepay,
		})
	}
	return resp
}

func parseID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// nextRunAfter returns the next occurrence of hour:00 UTC strictly after now.
func nextRunAfter(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer log.Sync()

	pricingCfg, err := cfg.Pricing.Engine()
	if err != nil {
		log.Fatal("invalid pricing config", zap.Error(err))
	}
	pricer := pricing.NewEngine(pricingCfg)

	sqliteStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		log.Fatal("failed to initialize store", zap.Error(err))
	}
	defer sqliteStore.Close()

	server := NewServer(sqliteStore, pricer, log, cfg.Settlement.Workers)

	// The production trigger is an external scheduler; this goroutine
	// stands in for it, firing once a day at the configured UTC hour.
	go func() {
		for {
			next := nextRunAfter(time.Now(), cfg.Settlement.RunHourUTC)
			timer := time.NewTimer(time.Until(next))
			<-timer.C
			if err := server.settler.Run(context.Background(), time.Now()); err != nil {
				log.Error("scheduled settlement run failed", zap.Error(err))
			}
		}
	}()

	log.Info("server starting", zap.String("addr", cfg.Server.Addr))
	if err := http.ListenAndServe(cfg.Server.Addr, server.router()); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
