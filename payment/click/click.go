package click

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"bitbucket.org/openscholar/ujmp_backend/models"
	"bitbucket.org/openscholar/ujmp_backend/payment"
)

// Channel integrates the Click checkout. The redirect URL carries the
// service and merchant ids plus the invoice reference; settlement comes back
// through the shared webhook payload signed with CLICK_SECRET_KEY.
type Channel struct {
	serviceId   string
	merchantId  string
	secretKey   string
	checkoutURL string
}

func New() *Channel {
	checkout := os.Getenv("CLICK_CHECKOUT_URL")
	if checkout == "" {
		checkout = "https://my.click.uz/services/pay"
	}
	return &Channel{
		serviceId:   os.Getenv("CLICK_SERVICE_ID"),
		merchantId:  os.Getenv("CLICK_MERCHANT_ID"),
		secretKey:   os.Getenv("CLICK_SECRET_KEY"),
		checkoutURL: checkout,
	}
}

func (c *Channel) Name() models.PaymentProvider {
	return models.ProviderClick
}

func (c *Channel) InitiatePayment(_ context.Context, invoice *models.Invoice, returnURL string) (string, error) {
	if c.serviceId == "" || c.merchantId == "" {
		return "", fmt.Errorf("click service credentials not configured")
	}
	q := url.Values{}
	q.Set("service_id", c.serviceId)
	q.Set("merchant_id", c.merchantId)
	q.Set("amount", invoice.Amount.StringFixed(2))
	q.Set("transaction_param", invoice.InvoiceNumber)
	if returnURL != "" {
		q.Set("return_url", returnURL)
	}
	return fmt.Sprintf("%s?%s", c.checkoutURL, q.Encode()), nil
}

func (c *Channel) VerifySignature(rawBody []byte, signature string) bool {
	return payment.VerifyPayload(c.secretKey, rawBody, signature)
}

func (c *Channel) ParseEvent(rawBody []byte) (*payment.Event, error) {
	return payment.ParseSettlementEvent(rawBody)
}
