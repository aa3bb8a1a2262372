package webapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	rail "github.com/railpayorg/railpay/pkg"
	"github.com/railpayorg/railpay/pkg/fiat"
	"github.com/railpayorg/railpay/pkg/funnel"
	"github.com/railpayorg/railpay/pkg/rates"
	"github.com/railpayorg/railpay/pkg/router"
	"github.com/tjstebbing/conductor"
)

// WebAPI implements conductor.Service. It serves two HTTP surfaces:
// an admin API with the full payment operations, and a public API
// restricted to funnel status and QR codes (safe to expose to payers).
type WebAPI struct {
	config   rail.Config
	funnels  *funnel.Gateway
	fiat     *fiat.Gateway
	conv     *rates.Converter
	registry *rail.ProviderRegistry
	router   *router.Router
}

// interface guard ensures WebAPI implements conductor.Service
var _ conductor.Service = WebAPI{}

func NewWebAPI(config rail.Config, funnels *funnel.Gateway, fg *fiat.Gateway, conv *rates.Converter, registry *rail.ProviderRegistry, rt *router.Router) (WebAPI, error) {
	return WebAPI{
		config:   config,
		funnels:  funnels,
		fiat:     fg,
		conv:     conv,
		registry: registry,
		router:   rt,
	}, nil
}

func (t WebAPI) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		adminMux, pubMux := t.createRouters()

		// Start the admin server
		adminServer := &http.Server{Addr: t.config.WebAPI.AdminBind + ":" + t.config.WebAPI.AdminPort, Handler: adminMux}
		fmt.Printf("\nAdmin API listening on %s:%s", t.config.WebAPI.AdminBind, t.config.WebAPI.AdminPort)
		go func() {
			if err := adminServer.ListenAndServe(); err != http.ErrServerClosed {
				log.Fatalf("HTTP server admin ListenAndServe: %v", err)
			}
		}()

		// Start the public server
		pubServer := &http.Server{Addr: t.config.WebAPI.PubBind + ":" + t.config.WebAPI.PubPort, Handler: pubMux}
		fmt.Printf("\nPublic API listening on %s:%s", t.config.WebAPI.PubBind, t.config.WebAPI.PubPort)
		go func() {
			if err := pubServer.ListenAndServe(); err != http.ErrServerClosed {
				log.Fatalf("HTTP server public ListenAndServe: %v", err)
			}
		}()

		started <- true
		ctx := <-stop
		adminServer.Shutdown(ctx)
		pubServer.Shutdown(ctx)
		stopped <- true
	}()
	return nil
}

func (t WebAPI) createRouters() (adminMux *httprouter.Router, pubMux *httprouter.Router) {
	adminMux = httprouter.New() // Admin APIs
	pubMux = httprouter.New()   // Public APIs

	// Admin APIs

	// POST { funnel } /funnel -> { funnel } open a new payment funnel
	adminMux.POST("/funnel", t.openFunnel)

	// GET /funnel/:funnelID -> { details } progress view incl. live balance
	adminMux.GET("/funnel/:funnelID", t.getFunnel)

	// GET /funnel/:funnelID/status -> { funnel } evaluate expiry/forwarding
	adminMux.GET("/funnel/:funnelID/status", t.checkFunnel)

	// DELETE /funnel/:funnelID -> cancel a PENDING funnel
	adminMux.DELETE("/funnel/:funnelID", t.cancelFunnel)

	// POST { request } /fiat -> { request } create a USD payment request
	adminMux.POST("/fiat", t.createFiatRequest)

	// GET /fiat/:requestID/status -> { request } check/settle a request
	adminMux.GET("/fiat/:requestID/status", t.checkFiatRequest)

	// DELETE /fiat/:requestID -> cancel a PENDING request
	adminMux.DELETE("/fiat/:requestID", t.cancelFiatRequest)

	// GET /rates -> { symbol: rate, ... } current rate table
	adminMux.GET("/rates", t.getRates)

	// POST /rates/refresh -> force a rate refresh
	adminMux.POST("/rates/refresh", t.refreshRates)

	// GET /health -> { health } gateway + converter health
	adminMux.GET("/health", t.getHealth)

	// POST { request, criterion } /route/select -> { result }
	adminMux.POST("/route/select", t.routeSelect)

	// POST { request, max_providers } /route/rank -> [ option, ... ]
	adminMux.POST("/route/rank", t.routeRank)

	// POST { request, strategy } /route/split -> { parts }
	adminMux.POST("/route/split", t.routeSplit)

	// POST { request } /pay -> { result } dispatch to first eligible provider
	adminMux.POST("/pay", t.pay)

	if t.config.Metrics.Enabled {
		adminMux.Handler("GET", "/metrics", promhttp.Handler())
	}

	// External APIs

	// GET /funnel/:funnelID -> { status } payer-safe funnel view
	pubMux.GET("/funnel/:funnelID", t.getPublicFunnel)

	pubMux.GET("/funnel/:funnelID/qr.png", t.getFunnelQR)

	return
}

type OpenFunnelRequest struct {
	Amount      rail.CoinAmount `json:"amount"`
	Unit        string          `json:"unit"`
	CustomerRef string          `json:"customer_ref"`
	Description string          `json:"description"`
}

// openFunnel returns the created FunnelRecord; its ID is the one-time
// receiving address for this payment.
func (t WebAPI) openFunnel(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var o OpenFunnelRequest
	err := json.NewDecoder(r.Body).Decode(&o)
	if err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body (expecting JSON): %v", err))
		return
	}
	unit, ok := rail.UnitForSymbol(o.Unit)
	if !ok {
		sendBadRequest(w, fmt.Sprintf("unknown settlement unit: %q", o.Unit))
		return
	}
	rec, err := t.funnels.Open(r.Context(), o.Amount, unit, o.CustomerRef, o.Description)
	if err != nil {
		sendError(w, "OpenFunnel", err)
		return
	}
	sendResponse(w, rec)
}

// getFunnel returns the progress view, including the live receiving
// balance and the amount still owed.
func (t WebAPI) getFunnel(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("funnelID")
	if id == "" {
		sendBadRequest(w, "missing funnel ID in URL")
		return
	}
	details, err := t.funnels.Details(r.Context(), id)
	if err != nil {
		sendError(w, "GetFunnel", err)
		return
	}
	sendResponse(w, details)
}

// checkFunnel evaluates expiry and forwards the balance if the expected
// amount has arrived, returning the (possibly transitioned) record.
func (t WebAPI) checkFunnel(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("funnelID")
	if id == "" {
		sendBadRequest(w, "missing funnel ID in URL")
		return
	}
	rec, err := t.funnels.CheckStatus(r.Context(), id)
	if err != nil {
		sendError(w, "CheckStatus", err)
		return
	}
	sendResponse(w, rec)
}

func (t WebAPI) cancelFunnel(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("funnelID")
	if id == "" {
		sendBadRequest(w, "missing funnel ID in URL")
		return
	}
	if !t.funnels.Cancel(id) {
		sendErrorResponse(w, 409, rail.NotCancellable, "funnel cannot be cancelled (unknown, forwarding, or terminal)")
		return
	}
	sendResponse(w, "cancelled")
}

type CreateFiatRequest struct {
	Amount      rail.CoinAmount   `json:"amount"`
	CustomerRef string            `json:"customer_ref"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

// createFiatRequest opens a USD-denominated payment request. The
// exchange rate applied at creation is frozen into the response.
func (t WebAPI) createFiatRequest(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var o CreateFiatRequest
	err := json.NewDecoder(r.Body).Decode(&o)
	if err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body (expecting JSON): %v", err))
		return
	}
	req, err := t.fiat.CreateRequest(r.Context(), o.Amount, o.CustomerRef, o.Description, o.Metadata)
	if err != nil {
		sendError(w, "CreateRequest", err)
		return
	}
	sendResponse(w, req)
}

func (t WebAPI) checkFiatRequest(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("requestID")
	if id == "" {
		sendBadRequest(w, "missing request ID in URL")
		return
	}
	req, err := t.fiat.CheckStatus(r.Context(), id)
	if err != nil {
		sendError(w, "CheckStatus", err)
		return
	}
	sendResponse(w, req)
}

func (t WebAPI) cancelFiatRequest(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("requestID")
	if id == "" {
		sendBadRequest(w, "missing request ID in URL")
		return
	}
	if err := t.fiat.Cancel(id); err != nil {
		sendError(w, "Cancel", err)
		return
	}
	sendResponse(w, "cancelled")
}

func (t WebAPI) getRates(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	rates, err := t.conv.AllRates(r.Context())
	if err != nil {
		sendError(w, "AllRates", err)
		return
	}
	sendResponse(w, rates)
}

func (t WebAPI) refreshRates(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	err := t.conv.RefreshRates(r.Context())
	if err != nil {
		sendError(w, "RefreshRates", err)
		return
	}
	sendResponse(w, t.conv.Health())
}

func (t WebAPI) getHealth(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	sendResponse(w, t.fiat.Health())
}

type RouteRequest struct {
	Request      rail.PaymentRequest  `json:"request"`
	Criterion    router.Criterion     `json:"criterion"`
	Strategy     router.SplitStrategy `json:"strategy"`
	MaxProviders int                  `json:"max_providers"`
}

func (t WebAPI) routeSelect(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var o RouteRequest
	err := json.NewDecoder(r.Body).Decode(&o)
	if err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body (expecting JSON): %v", err))
		return
	}
	if o.Criterion == "" {
		o.Criterion = router.BestValue
	}
	res, err := t.router.SelectBestProvider(r.Context(), o.Request, o.Criterion)
	if err != nil {
		sendError(w, "SelectBestProvider", err)
		return
	}
	sendResponse(w, res)
}

func (t WebAPI) routeRank(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var o RouteRequest
	err := json.NewDecoder(r.Body).Decode(&o)
	if err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body (expecting JSON): %v", err))
		return
	}
	opts, err := t.router.RankOptions(r.Context(), o.Request, o.MaxProviders)
	if err != nil {
		sendError(w, "RankOptions", err)
		return
	}
	sendResponse(w, opts)
}

func (t WebAPI) routeSplit(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var o RouteRequest
	err := json.NewDecoder(r.Body).Decode(&o)
	if err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body (expecting JSON): %v", err))
		return
	}
	if o.Strategy == "" {
		o.Strategy = router.SplitEqual
	}
	res, err := t.router.SplitPayment(r.Context(), o.Request, o.Strategy)
	if err != nil {
		sendError(w, "SplitPayment", err)
		return
	}
	sendResponse(w, res)
}

// pay dispatches a payment to the first registered provider supporting
// its method and currency.
func (t WebAPI) pay(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var o rail.PaymentRequest
	err := json.NewDecoder(r.Body).Decode(&o)
	if err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body (expecting JSON): %v", err))
		return
	}
	res, err := t.registry.Dispatch(r.Context(), o)
	if err != nil {
		sendError(w, "Dispatch", err)
		return
	}
	sendResponse(w, res)
}

// PublicFunnel is the payer-safe view: no merchant address, no
// forwarding internals.
type PublicFunnel struct {
	ID        string              `json:"id"`
	PayTo     rail.Address        `json:"pay_to"`
	Expected  rail.CoinAmount     `json:"expected"`
	Unit      rail.SettlementUnit `json:"unit"`
	Status    rail.FunnelStatus   `json:"status"`
	ExpiresAt int64               `json:"expires_at"`
}

func (t WebAPI) getPublicFunnel(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("funnelID")
	if id == "" {
		sendBadRequest(w, "missing funnel ID in URL")
		return
	}
	rec, err := t.funnels.CheckStatus(r.Context(), id)
	if err != nil {
		sendErrorResponse(w, 404, rail.NotFound, "no such funnel")
		return
	}
	sendResponse(w, PublicFunnel{
		ID:        rec.ID,
		PayTo:     rec.ReceivingAddress,
		Expected:  rec.Expected,
		Unit:      rec.Unit,
		Status:    rec.Status,
		ExpiresAt: rec.ExpiresAt.Unix(),
	})
}

func (t WebAPI) getFunnelQR(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("funnelID")
	if id == "" {
		sendBadRequest(w, "missing funnel ID in URL")
		return
	}
	details, err := t.funnels.Details(r.Context(), id)
	if err != nil {
		sendErrorResponse(w, 404, rail.NotFound, "no such funnel")
		return
	}
	size := 512
	if s := r.URL.Query().Get("size"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 64 && n <= 2048 {
			size = n
		}
	}
	uri := PaymentURI(details.Unit, rail.Address(details.ID), details.Expected)
	qr, err := GenerateQRCodePNG(uri, size)
	if err != nil {
		sendError(w, "GenerateQRCodePNG", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	//  Maxage 900 (15 minutes) is because this image should not
	//  change at all for a given funnel and we expect most payments
	// to be complete in far less time than 15 min.
	w.Header().Set("Cache-Control", "max-age:=900, immutable")
	w.Write(qr)
}
