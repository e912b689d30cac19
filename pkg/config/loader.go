package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, layered under environment variables
// (SETTLEMENT_WORKERS, DATABASE_PATH, ...). A .env file is honored when
// present.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("database.path", "adelanto.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("settlement.workers", 4)
	v.SetDefault("settlement.run_hour_utc", 0)
	v.SetDefault("pricing.max_loan_capital", "10000000")
	v.SetDefault("pricing.capital_share", "0.30")
	v.SetDefault("pricing.annual_rate", "0.80")
	v.SetDefault("pricing.max_daily_percentage", "0.10")
	v.SetDefault("pricing.days_per_year", 365)
	v.SetDefault("pricing.plan_days", []int{120, 180})
}

func validate(cfg *Config) error {
	if cfg.Settlement.RunHourUTC < 0 || cfg.Settlement.RunHourUTC > 23 {
		return fmt.Errorf("settlement.run_hour_utc must be 0-23, got %d", cfg.Settlement.RunHourUTC)
	}
	if len(cfg.Pricing.PlanDays) == 0 {
		return fmt.Errorf("pricing.plan_days must not be empty")
	}
	// Surface bad decimal strings at startup rather than first use.
	if _, err := cfg.Pricing.Engine(); err != nil {
		return err
	}
	return nil
}
