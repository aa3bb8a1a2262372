package store

import (
	"database/sql"
	"encoding/json"
	"time"

	rail "github.com/railpayorg/railpay/pkg"
	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"
)

var SETUP_SQL string = `
CREATE TABLE IF NOT EXISTS funnel (
	id TEXT NOT NULL PRIMARY KEY,
	receiving_address TEXT NOT NULL,
	merchant_address TEXT NOT NULL,
	expected TEXT NOT NULL,
	unit TEXT NOT NULL,
	status TEXT NOT NULL,
	customer_ref TEXT,
	description TEXT,
	created INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	confirmed_balance TEXT,
	forwarded_ref TEXT,
	forwarded_at INTEGER,
	failure_reason TEXT
);
CREATE INDEX IF NOT EXISTS funnel_status ON funnel (status, created);

CREATE TABLE IF NOT EXISTS fiat_request (
	id TEXT NOT NULL PRIMARY KEY,
	fiat_amount TEXT NOT NULL,
	service_fee TEXT NOT NULL,
	total_fiat TEXT NOT NULL,
	crypto_amount TEXT NOT NULL,
	unit TEXT NOT NULL,
	exchange_rate TEXT NOT NULL,
	funnel_id TEXT NOT NULL,
	pay_to_address TEXT NOT NULL,
	status TEXT NOT NULL,
	customer_ref TEXT,
	description TEXT,
	metadata TEXT,
	created INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	received_crypto TEXT,
	received_fiat TEXT
);
CREATE INDEX IF NOT EXISTS fiat_request_status ON fiat_request (status, created);
`

// interface guard ensures SQLite implements rail.Store
var _ rail.Store = SQLite{}

type SQLite struct {
	db *sql.DB
}

// NewSQLiteStore returns a rail.Store implementor that uses sqlite.
func NewSQLiteStore(fileName string) (SQLite, error) {
	db, err := sql.Open("sqlite3", fileName)
	if err != nil {
		return SQLite{}, dbErr(err, "opening database")
	}
	// init tables / indexes
	_, err = db.Exec(SETUP_SQL)
	if err != nil {
		return SQLite{}, dbErr(err, "creating tables")
	}
	return SQLite{db}, nil
}

// Defer this until shutdown
func (s SQLite) Close() error {
	return s.db.Close()
}

func (s SQLite) StoreFunnel(rec rail.FunnelRecord) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO funnel (
			id, receiving_address, merchant_address, expected, unit, status,
			customer_ref, description, created, expires_at,
			confirmed_balance, forwarded_ref, forwarded_at, failure_reason
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.ReceivingAddress, rec.MerchantAddress, rec.Expected.String(),
		rec.Unit.Symbol, rec.Status, rec.CustomerRef, rec.Description,
		rec.Created.Unix(), rec.ExpiresAt.Unix(),
		rec.ConfirmedBalance.String(), rec.ForwardedRef, rec.ForwardedAt.Unix(), rec.FailureReason)
	if err != nil {
		return dbErr(err, "StoreFunnel")
	}
	return nil
}

func (s SQLite) GetFunnel(id string) (rail.FunnelRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, receiving_address, merchant_address, expected, unit, status,
		       customer_ref, description, created, expires_at,
		       confirmed_balance, forwarded_ref, forwarded_at, failure_reason
		FROM funnel WHERE id = ?`, id)
	rec, err := scanFunnel(row)
	if err == sql.ErrNoRows {
		return rail.FunnelRecord{}, rail.NewErr(rail.NotFound, "no such funnel: %s", id)
	}
	if err != nil {
		return rail.FunnelRecord{}, dbErr(err, "GetFunnel")
	}
	return rec, nil
}

func (s SQLite) ListFunnels(status rail.FunnelStatus, limit int) ([]rail.FunnelRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, receiving_address, merchant_address, expected, unit, status,
		       customer_ref, description, created, expires_at,
		       confirmed_balance, forwarded_ref, forwarded_at, failure_reason
		FROM funnel WHERE status = ? ORDER BY created DESC LIMIT ?`, status, limit)
	if err != nil {
		return nil, dbErr(err, "ListFunnels")
	}
	defer rows.Close()
	var out []rail.FunnelRecord
	for rows.Next() {
		rec, err := scanFunnel(rows)
		if err != nil {
			return nil, dbErr(err, "ListFunnels scan")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s SQLite) StoreFiatRequest(req rail.FiatPaymentRequest) error {
	meta, err := json.Marshal(req.Metadata)
	if err != nil {
		return dbErr(err, "StoreFiatRequest metadata")
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO fiat_request (
			id, fiat_amount, service_fee, total_fiat, crypto_amount, unit,
			exchange_rate, funnel_id, pay_to_address, status,
			customer_ref, description, metadata, created, expires_at,
			received_crypto, received_fiat
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		req.ID, req.FiatAmount.String(), req.ServiceFee.String(), req.TotalFiat.String(),
		req.CryptoAmount.String(), req.Unit.Symbol, req.ExchangeRate.String(),
		req.FunnelID, req.PayToAddress, req.Status,
		req.CustomerRef, req.Description, string(meta),
		req.Created.Unix(), req.ExpiresAt.Unix(),
		req.ReceivedCrypto.String(), req.ReceivedFiat.String())
	if err != nil {
		return dbErr(err, "StoreFiatRequest")
	}
	return nil
}

func (s SQLite) GetFiatRequest(id string) (rail.FiatPaymentRequest, error) {
	row := s.db.QueryRow(`
		SELECT id, fiat_amount, service_fee, total_fiat, crypto_amount, unit,
		       exchange_rate, funnel_id, pay_to_address, status,
		       customer_ref, description, metadata, created, expires_at,
		       received_crypto, received_fiat
		FROM fiat_request WHERE id = ?`, id)
	req, err := scanFiatRequest(row)
	if err == sql.ErrNoRows {
		return rail.FiatPaymentRequest{}, rail.NewErr(rail.NotFound, "no such payment request: %s", id)
	}
	if err != nil {
		return rail.FiatPaymentRequest{}, dbErr(err, "GetFiatRequest")
	}
	return req, nil
}

func (s SQLite) ListFiatRequests(status rail.FunnelStatus, limit int) ([]rail.FiatPaymentRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, fiat_amount, service_fee, total_fiat, crypto_amount, unit,
		       exchange_rate, funnel_id, pay_to_address, status,
		       customer_ref, description, metadata, created, expires_at,
		       received_crypto, received_fiat
		FROM fiat_request WHERE status = ? ORDER BY created DESC LIMIT ?`, status, limit)
	if err != nil {
		return nil, dbErr(err, "ListFiatRequests")
	}
	defer rows.Close()
	var out []rail.FiatPaymentRequest
	for rows.Next() {
		req, err := scanFiatRequest(rows)
		if err != nil {
			return nil, dbErr(err, "ListFiatRequests scan")
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanFunnel(row scanner) (rail.FunnelRecord, error) {
	var rec rail.FunnelRecord
	var expected, balance, unitSym string
	var created, expires, forwardedAt int64
	err := row.Scan(&rec.ID, &rec.ReceivingAddress, &rec.MerchantAddress, &expected,
		&unitSym, &rec.Status, &rec.CustomerRef, &rec.Description,
		&created, &expires, &balance, &rec.ForwardedRef, &forwardedAt, &rec.FailureReason)
	if err != nil {
		return rail.FunnelRecord{}, err
	}
	rec.Expected, err = decimal.NewFromString(expected)
	if err != nil {
		return rail.FunnelRecord{}, err
	}
	rec.ConfirmedBalance, err = decimal.NewFromString(balance)
	if err != nil {
		return rail.FunnelRecord{}, err
	}
	rec.Unit, _ = rail.UnitForSymbol(unitSym)
	rec.Created = time.Unix(created, 0)
	rec.ExpiresAt = time.Unix(expires, 0)
	rec.ForwardedAt = time.Unix(forwardedAt, 0)
	return rec, nil
}

func scanFiatRequest(row scanner) (rail.FiatPaymentRequest, error) {
	var req rail.FiatPaymentRequest
	var fiatAmount, serviceFee, totalFiat, cryptoAmount, unitSym, rate string
	var receivedCrypto, receivedFiat, meta string
	var created, expires int64
	err := row.Scan(&req.ID, &fiatAmount, &serviceFee, &totalFiat, &cryptoAmount,
		&unitSym, &rate, &req.FunnelID, &req.PayToAddress, &req.Status,
		&req.CustomerRef, &req.Description, &meta, &created, &expires,
		&receivedCrypto, &receivedFiat)
	if err != nil {
		return rail.FiatPaymentRequest{}, err
	}
	amounts := []struct {
		val string
		dst *rail.CoinAmount
	}{
		{fiatAmount, &req.FiatAmount}, {serviceFee, &req.ServiceFee},
		{totalFiat, &req.TotalFiat}, {cryptoAmount, &req.CryptoAmount},
		{rate, &req.ExchangeRate}, {receivedCrypto, &req.ReceivedCrypto},
		{receivedFiat, &req.ReceivedFiat},
	}
	for _, a := range amounts {
		d, err := decimal.NewFromString(a.val)
		if err != nil {
			return rail.FiatPaymentRequest{}, err
		}
		*a.dst = d
	}
	req.Unit, _ = rail.UnitForSymbol(unitSym)
	if meta != "" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &req.Metadata); err != nil {
			return rail.FiatPaymentRequest{}, err
		}
	}
	req.Created = time.Unix(created, 0)
	req.ExpiresAt = time.Unix(expires, 0)
	return req, nil
}

func dbErr(err error, where string) error {
	return rail.NewErr(rail.UnknownError, "db error in %s: %v", where, err)
}
