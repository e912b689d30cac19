package config

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/adelantofin/adelanto/pkg/pricing"
)

// Config is the main application configuration struct.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SettlementConfig struct {
	Workers    int `mapstructure:"workers"`
	RunHourUTC int `mapstructure:"run_hour_utc"`
}

// PricingConfig carries the pricing constants as decimal strings so the
// yaml round-trips without floating-point drift.
type PricingConfig struct {
	MaxLoanCapital     string `mapstructure:"max_loan_capital"`
	CapitalShare       string `mapstructure:"capital_share"`
	AnnualRate         string `mapstructure:"annual_rate"`
	MaxDailyPercentage string `mapstructure:"max_daily_percentage"`
	DaysPerYear        int64  `mapstructure:"days_per_year"`
	PlanDays           []int  `mapstructure:"plan_days"`
}

// Engine converts the string constants into a pricing.Config.
func (p PricingConfig) Engine() (pricing.Config, error) {
	cfg := pricing.Config{
		DaysPerYear: p.DaysPerYear,
		PlanDays:    p.PlanDays,
	}

	var err error
	if cfg.MaxLoanCapital, err = parseDecimal("pricing.max_loan_capital", p.MaxLoanCapital); err != nil {
		return pricing.Config{}, err
	}
	if cfg.CapitalShare, err = parseDecimal("pricing.capital_share", p.CapitalShare); err != nil {
		return pricing.Config{}, err
	}
	if cfg.AnnualRate, err = parseDecimal("pricing.annual_rate", p.AnnualRate); err != nil {
		return pricing.Config{}, err
	}
	if cfg.MaxDailyPercentage, err = parseDecimal("pricing.max_daily_percentage", p.MaxDailyPercentage); err != nil {
		return pricing.Config{}, err
	}
	return cfg, nil
}

func parseDecimal(key, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q", key, value)
	}
	return d, nil
}
