package payme

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"bitbucket.org/openscholar/ujmp_backend/models"
	"bitbucket.org/openscholar/ujmp_backend/payment"
)

// Channel integrates the Payme checkout. The hosted checkout URL carries the
// merchant id plus base64-encoded order parameters; settlement comes back
// through the shared webhook payload signed with PAYME_SECRET_KEY.
type Channel struct {
	merchantId  string
	secretKey   string
	checkoutURL string
}

func New() *Channel {
	checkout := os.Getenv("PAYME_CHECKOUT_URL")
	if checkout == "" {
		checkout = "https://checkout.paycom.uz"
	}
	return &Channel{
		merchantId:  os.Getenv("PAYME_MERCHANT_ID"),
		secretKey:   os.Getenv("PAYME_SECRET_KEY"),
		checkoutURL: checkout,
	}
}

func (c *Channel) Name() models.PaymentProvider {
	return models.ProviderPayme
}

func (c *Channel) InitiatePayment(_ context.Context, invoice *models.Invoice, returnURL string) (string, error) {
	if c.merchantId == "" {
		return "", fmt.Errorf("payme merchant id not configured")
	}
	// Payme expects the amount in tiyin (hundredths).
	amount := invoice.Amount.Shift(2).IntPart()
	params := fmt.Sprintf("m=%s;ac.invoice_number=%s;a=%d;c=%s",
		c.merchantId, invoice.InvoiceNumber, amount, returnURL)
	encoded := base64.StdEncoding.EncodeToString([]byte(params))
	return fmt.Sprintf("%s/%s", c.checkoutURL, encoded), nil
}

func (c *Channel) VerifySignature(rawBody []byte, signature string) bool {
	return payment.VerifyPayload(c.secretKey, rawBody, signature)
}

func (c *Channel) ParseEvent(rawBody []byte) (*payment.Event, error) {
	return payment.ParseSettlementEvent(rawBody)
}
