package main

import (
	"context"
	"os"
	"time"

	rail "github.com/railpayorg/railpay/pkg"
	"github.com/railpayorg/railpay/pkg/fiat"
	"github.com/railpayorg/railpay/pkg/funnel"
	"github.com/railpayorg/railpay/pkg/metrics"
	"github.com/railpayorg/railpay/pkg/providers"
	"github.com/railpayorg/railpay/pkg/rates"
	"github.com/railpayorg/railpay/pkg/receivers"
	"github.com/railpayorg/railpay/pkg/router"
	"github.com/railpayorg/railpay/pkg/store"
	"github.com/railpayorg/railpay/pkg/webapi"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tjstebbing/conductor"
)

func Server(conf rail.Config) {

	c := conductor.NewConductor(
		conductor.HookSignals(),
		conductor.Noisy(),
	)

	log := zerolog.New(os.Stderr).With().Timestamp().
		Str("service", conf.Railpay.ServiceName).Logger()

	// Start the MessageBus Service
	bus := rail.NewMessageBus()
	c.Service("MessageBus", bus)

	// Set up all configured outbound destinations
	receivers.SetupLoggers(c, bus, conf)
	receivers.SetupCallbacks(c, bus, conf)
	if err := receivers.SetupZMQ(c, bus, conf); err != nil {
		panic(err)
	}

	// Setup a Store for terminal records
	db, err := store.NewSQLiteStore(conf.Store.DBFile)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	var rec metrics.Recorder
	if conf.Metrics.Enabled {
		rec = metrics.NewPrometheusRecorder()
	} else {
		rec = metrics.NewNoopRecorder()
	}

	// Currency converter over the configured quote sources
	conv := rates.NewConverter(conf, rates.SourcesFromConfig(conf), log, rec)

	fees, err := rail.FeeCalculatorFromConfig(conf)
	if err != nil {
		panic(err)
	}

	// Settlement ledger. The in-process ledger stands in until a real
	// rail is wired up; everything downstream only sees rail.Ledger.
	ledger := providers.NewMockLedger()
	ledger.NetworkFee = decimal.RequireFromString("0.0001")

	funnels := funnel.NewGateway(conf, ledger, fees, db, &bus, log, rec)

	fg, err := fiat.NewGateway(conf, conv, funnels, db, &bus, log, rec)
	if err != nil {
		panic(err)
	}
	if conf.Funnel.SweepSeconds > 0 {
		c.Service("Expiry Sweeper", fiat.NewSweeper(conf, fg, log))
	}

	// Provider registry and router
	registry := rail.NewProviderRegistry()
	registry.Register(providers.NewMockProvider("bitcoin",
		[]rail.PaymentMethod{rail.MethodCrypto}, []string{"BTC"},
		decimal.RequireFromString("0.0002")))
	registry.Register(providers.NewMockProvider("ethereum",
		[]rail.PaymentMethod{rail.MethodCrypto}, []string{"ETH"},
		decimal.RequireFromString("0.003")))
	registry.Register(providers.NewMockProvider("bank-transfer",
		[]rail.PaymentMethod{rail.MethodBankTransfer}, []string{"USD", "EUR"},
		decimal.RequireFromString("1.50")))
	registry.Register(providers.NewMockProvider("digital-wallet",
		[]rail.PaymentMethod{rail.MethodDigitalWallet}, []string{"USD", "BTC", "ETH"},
		decimal.RequireFromString("0.50")))

	rt := router.NewRouter(registry, router.DefaultStaticMetrics(), log, rec)

	// Start the Payment API
	p, err := webapi.NewWebAPI(conf, funnels, fg, conv, registry, rt)
	if err != nil {
		panic(err)
	}
	c.Service("Payment API", p)

	// keep the converter warm so the first payment request does not
	// block on an upstream fetch
	go func() {
		time.Sleep(time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), conf.HTTPTimeout())
		defer cancel()
		conv.RefreshRates(ctx)
	}()

	<-c.Start()
}
