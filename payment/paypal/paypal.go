package paypal

import (
	"context"
	"fmt"
	"os"

	sdk "github.com/plutov/paypal/v4"

	"bitbucket.org/openscholar/ujmp_backend/models"
	"bitbucket.org/openscholar/ujmp_backend/payment"
)

// Channel integrates PayPal card payments for international authors through
// the orders API. Settlement events arrive on the shared webhook payload
// signed with PAYPAL_WEBHOOK_SECRET, which keeps the reconciler provider
// agnostic.
type Channel struct {
	client        *sdk.Client
	webhookSecret string
}

func New() (*Channel, error) {
	clientId := os.Getenv("PAYPAL_CLIENT_ID")
	secret := os.Getenv("PAYPAL_SECRET")
	if clientId == "" || secret == "" {
		return nil, fmt.Errorf("paypal credentials not configured")
	}
	apiBase := sdk.APIBaseSandBox
	if os.Getenv("PAYPAL_LIVE") == "true" {
		apiBase = sdk.APIBaseLive
	}
	client, err := sdk.NewClient(clientId, secret, apiBase)
	if err != nil {
		return nil, err
	}
	return &Channel{
		client:        client,
		webhookSecret: os.Getenv("PAYPAL_WEBHOOK_SECRET"),
	}, nil
}

func (c *Channel) Name() models.PaymentProvider {
	return models.ProviderPaypal
}

func (c *Channel) InitiatePayment(ctx context.Context, invoice *models.Invoice, returnURL string) (string, error) {
	if _, err := c.client.GetAccessToken(ctx); err != nil {
		return "", err
	}
	order, err := c.client.CreateOrder(ctx, sdk.OrderIntentCapture,
		[]sdk.PurchaseUnitRequest{
			{
				ReferenceID: invoice.InvoiceNumber,
				Amount: &sdk.PurchaseUnitAmount{
					Currency: invoice.Currency,
					Value:    invoice.Amount.StringFixed(2),
				},
			},
		},
		nil,
		&sdk.ApplicationContext{
			ReturnURL: returnURL,
		})
	if err != nil {
		return "", err
	}
	for _, link := range order.Links {
		if link.Rel == "approve" {
			return link.Href, nil
		}
	}
	return "", fmt.Errorf("paypal order %s has no approval link", order.ID)
}

func (c *Channel) VerifySignature(rawBody []byte, signature string) bool {
	return payment.VerifyPayload(c.webhookSecret, rawBody, signature)
}

func (c *Channel) ParseEvent(rawBody []byte) (*payment.Event, error) {
	return payment.ParseSettlementEvent(rawBody)
}
