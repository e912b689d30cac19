// Package pricing turns a merchant's trailing revenue into loan terms.
// Everything here is pure decimal arithmetic; no I/O, no clock.
package pricing

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
	six     = decimal.NewFromInt(6)
	thirty  = decimal.NewFromInt(30)
)

// DaysUnknown is returned by EstimateDaysToRepay when the repayment
// horizon cannot be estimated (no revenue or a zero retention rate).
const DaysUnknown = 999

// Config holds the pricing constants. It is passed in explicitly rather
// than read from package state so tests can vary it.
type Config struct {
	MaxLoanCapital     decimal.Decimal // absolute cap on disbursed capital
	CapitalShare       decimal.Decimal // fraction of monthly revenue offered
	AnnualRate         decimal.Decimal // nominal annual rate, pro-rated linearly
	MaxDailyPercentage decimal.Decimal // ceiling on the daily sales retention
	DaysPerYear        int64
	PlanDays           []int // valid plan lengths, in days
}

// DefaultConfig returns the production constants.
func DefaultConfig() Config {
	return Config{
		MaxLoanCapital:     decimal.NewFromInt(10_000_000),
		CapitalShare:       decimal.RequireFromString("0.30"),
		AnnualRate:         decimal.RequireFromString("0.80"),
		MaxDailyPercentage: decimal.RequireFromString("0.10"),
		DaysPerYear:        365,
		PlanDays:           []int{120, 180},
	}
}

// MonthlyRevenueFrom derives monthly revenue from a six-month total.
func MonthlyRevenueFrom(sixMonthRevenue decimal.Decimal) decimal.Decimal {
	return sixMonthRevenue.Div(six)
}

// DailyRevenueFrom derives daily revenue from a monthly figure.
func DailyRevenueFrom(monthlyRevenue decimal.Decimal) decimal.Decimal {
	return monthlyRevenue.Div(thirty)
}

// Engine computes offers and repayment terms from revenue figures.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// MaxCapital is the largest capital the merchant qualifies for:
// CapitalShare of monthly revenue, capped at MaxLoanCapital.
func (e *Engine) MaxCapital(monthlyRevenue decimal.Decimal) decimal.Decimal {
	gross := monthlyRevenue.Mul(e.cfg.CapitalShare)
	if gross.GreaterThan(e.cfg.MaxLoanCapital) {
		return e.cfg.MaxLoanCapital
	}
	return gross
}

// PeriodRate is the total interest factor over the full plan length:
// AnnualRate * planDays / DaysPerYear. Simple interest, not compound.
func (e *Engine) PeriodRate(planDays int) decimal.Decimal {
	return e.cfg.AnnualRate.
		Mul(decimal.NewFromInt(int64(planDays))).
		Div(decimal.NewFromInt(e.cfg.DaysPerYear))
}

// TotalToRepay is capital * (1 + PeriodRate(planDays)).
func (e *Engine) TotalToRepay(capital decimal.Decimal, planDays int) decimal.Decimal {
	return capital.Mul(one.Add(e.PeriodRate(planDays)))
}

// DailyPercentage is the fraction of each day's sales retained toward
// repayment, clamped to MaxDailyPercentage. A merchant with no daily
// revenue gets the ceiling outright; the division is never reached with
// a zero divisor.
func (e *Engine) DailyPercentage(totalToRepay, dailyRevenue decimal.Decimal, planDays int) decimal.Decimal {
	if dailyRevenue.IsZero() {
		return e.cfg.MaxDailyPercentage
	}
	pct := totalToRepay.Div(dailyRevenue).Div(decimal.NewFromInt(int64(planDays)))
	if pct.GreaterThan(e.cfg.MaxDailyPercentage) {
		return e.cfg.MaxDailyPercentage
	}
	return pct
}

// AutoPayment is the automatic collection for one day of sales.
func (e *Engine) AutoPayment(dailySales, dailyPercentage decimal.Decimal) decimal.Decimal {
	return dailySales.Mul(dailyPercentage)
}

// EstimateDaysToRepay is ceil(totalToRepay / (dailyRevenue * dailyPercentage)),
// or DaysUnknown when either factor is zero.
func (e *Engine) EstimateDaysToRepay(totalToRepay, dailyRevenue, dailyPercentage decimal.Decimal) int {
	if dailyRevenue.IsZero() || dailyPercentage.IsZero() {
		return DaysUnknown
	}
	perDay := dailyRevenue.Mul(dailyPercentage)
	return int(math.Ceil(totalToRepay.Div(perDay).InexactFloat64()))
}

// RepaymentProgress is amountRepaid / totalToRepay * 100, zero for a
// zero total.
func (e *Engine) RepaymentProgress(amountRepaid, totalToRepay decimal.Decimal) decimal.Decimal {
	if totalToRepay.IsZero() {
		return decimal.Zero
	}
	return amountRepaid.Div(totalToRepay).Mul(hundred)
}

// PlanOffer is the terms for one plan length.
type PlanOffer struct {
	PlanDays             int             `json:"plan_days"`
	Capital              decimal.Decimal `json:"capital"`
	TotalToRepay         decimal.Decimal `json:"total_to_repay"`
	PeriodRate           decimal.Decimal `json:"period_rate"`
	DailyPercentage      decimal.Decimal `json:"daily_percentage"`
	EstimatedDaysToRepay int             `json:"estimated_days_to_repay"`
}

// Offer bundles a plan offer per configured plan length, all derived from
// the same capital figure.
type Offer struct {
	MonthlyRevenue decimal.Decimal `json:"monthly_revenue"`
	MaxCapital     decimal.Decimal `json:"max_capital"`
	Plans          []PlanOffer     `json:"plans"`
}

// BuildOffer prices the merchant's current maximum capital across every
// configured plan length.
func (e *Engine) BuildOffer(monthlyRevenue, dailyRevenue decimal.Decimal) Offer {
	capital := e.MaxCapital(monthlyRevenue)
	plans := make([]PlanOffer, 0, len(e.cfg.PlanDays))
	for _, days := range e.cfg.PlanDays {
		plans = append(plans, e.BuildPlan(capital, dailyRevenue, days))
	}
	return Offer{
		MonthlyRevenue: monthlyRevenue,
		MaxCapital:     capital,
		Plans:          plans,
	}
}

// BuildPlan prices one plan length for a given capital.
func (e *Engine) BuildPlan(capital, dailyRevenue decimal.Decimal, planDays int) PlanOffer {
	total := e.TotalToRepay(capital, planDays)
	pct := e.DailyPercentage(total, dailyRevenue, planDays)
	return PlanOffer{
		PlanDays:             planDays,
		Capital:              capital,
		TotalToRepay:         total,
		PeriodRate:           e.PeriodRate(planDays),
		DailyPercentage:      pct,
		EstimatedDaysToRepay: e.EstimateDaysToRepay(total, dailyRevenue, pct),
	}
}
