package rail

import (
	"time"

	"github.com/jinzhu/configor"
)

type Config struct {
	Railpay struct {
		ServiceName string `default:"railpay"`
		// Network is advisory only; providers decide what it means.
		Network string `default:"testnet"`
	}

	Fees struct {
		// Developer fee skimmed from each transaction, in percent.
		DeveloperFeePercent string `default:"1.0"`
		// Per-unit-symbol collection addresses. Unconfigured units
		// fall back to the generic placeholder address.
		CollectionAddresses map[string]string
	}

	Rates struct {
		// How long a fetched rate table stays fresh.
		CacheTTLSeconds int `default:"60"`
		// Minimum spacing between upstream rate fetches.
		RateLimitMillis int `default:"1000"`
		// Timeout on each upstream HTTP call.
		HTTPTimeoutSeconds int `default:"10"`
		// Converter reports unhealthy after this long without
		// a successful refresh.
		HealthyWindowSeconds int `default:"300"`
		// Smallest fiat amount a unit->fiat conversion may produce.
		MinFiatAmount string `default:"0.01"`
		// Quote services consulted in order; first success wins.
		Sources []RateSourceConfig
	}

	Funnel struct {
		// Wall-clock expiry for each funnel.
		TimeoutMinutes int `default:"30"`
		// Per-unit-symbol merchant payout addresses.
		MerchantAddresses map[string]string
		// Sweep interval for expired funnels/requests; 0 disables
		// the sweeper (expiry is still evaluated on status checks).
		SweepSeconds int `default:"0"`
	}

	Fiat struct {
		Unit              string `default:"BTC"`
		MinAmount         string `default:"1.00"`
		MaxAmount         string `default:"10000.00"`
		ServiceFeePercent string `default:"1.0"`
	}

	Store struct {
		// SQLite file for the confirmed/terminal record archive.
		// ":memory:" for tests.
		DBFile string `default:"railpay.db"`
	}

	WebAPI struct {
		AdminBind     string `default:"localhost"`
		AdminPort     string `default:"8081"`
		PubBind       string `default:"localhost"`
		PubPort       string `default:"8082"`
		PubAPIRootURL string `default:"http://localhost:8082"`
	}

	Metrics struct {
		Enabled bool `default:"false"`
	}

	// Outbound event destinations, keyed by a config-chosen name.
	Loggers   map[string]LoggerConfig
	Callbacks map[string]CallbackConfig
	ZMQ       struct {
		// PUB socket bind address, e.g. "tcp://127.0.0.1:28332".
		// Empty disables ZMQ event publishing.
		Bind string
	}
}

type RateSourceConfig struct {
	Name string
	URL  string
}

type LoggerConfig struct {
	Path  string
	Types []string
}

type CallbackConfig struct {
	Path       string
	HMACSecret string
	Types      []string
}

func LoadConfig(confPath string) Config {
	c := Config{}
	configor.Load(&c, confPath)
	return c
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Rates.CacheTTLSeconds) * time.Second
}

func (c Config) RateLimit() time.Duration {
	return time.Duration(c.Rates.RateLimitMillis) * time.Millisecond
}

func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Rates.HTTPTimeoutSeconds) * time.Second
}

func (c Config) HealthyWindow() time.Duration {
	return time.Duration(c.Rates.HealthyWindowSeconds) * time.Second
}

func (c Config) FunnelTimeout() time.Duration {
	return time.Duration(c.Funnel.TimeoutMinutes) * time.Minute
}

// TestConfig returns a deterministic Config for use in tests.
func TestConfig() Config {
	c := Config{}
	configor.Load(&c) // defaults only, no file
	c.Railpay.ServiceName = "railpay-test"
	c.Store.DBFile = ":memory:"
	c.Funnel.MerchantAddresses = map[string]string{
		"BTC": "merchant-btc-payout",
		"ETH": "merchant-eth-payout",
	}
	c.Fees.CollectionAddresses = map[string]string{
		"BTC": "dev-btc-collection",
	}
	return c
}
