package webapi

import (
	"fmt"
	"strings"

	rail "github.com/railpayorg/railpay/pkg"
	qrcode "github.com/skip2/go-qrcode"
)

func GenerateQRCodePNG(content string, size int) ([]byte, error) {
	// Generate the QR code as a PNG image
	pngBytes, err := qrcode.Encode(content, qrcode.Medium, size)
	if err != nil {
		return []byte{}, err
	}
	return pngBytes, nil
}

// PaymentURI builds a BIP21-style payment URI for a funnel, e.g.
// "btc:bc1...?amount=0.0023". Wallets that understand the scheme
// pre-fill the address and amount.
func PaymentURI(unit rail.SettlementUnit, addr rail.Address, amount rail.CoinAmount) string {
	scheme := strings.ToLower(unit.Symbol)
	return fmt.Sprintf("%s:%s?amount=%s", scheme, addr, amount.String())
}
