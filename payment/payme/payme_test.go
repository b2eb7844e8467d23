package payme

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"bitbucket.org/openscholar/ujmp_backend/models"
	"bitbucket.org/openscholar/ujmp_backend/payment"
)

func TestInitiatePaymentBuildsCheckoutURL(t *testing.T) {
	t.Setenv("PAYME_MERCHANT_ID", "merchant123")
	t.Setenv("PAYME_CHECKOUT_URL", "https://checkout.test")

	ch := New()
	invoice := &models.Invoice{
		InvoiceNumber: "INV-1234ABCD5678",
		Amount:        decimal.RequireFromString("150.50"),
		Currency:      "UZS",
	}
	got, err := ch.InitiatePayment(context.Background(), invoice, "https://journal.test/return")
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}
	if !strings.HasPrefix(got, "https://checkout.test/") {
		t.Fatalf("url = %q", got)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(got, "https://checkout.test/"))
	if err != nil {
		t.Fatalf("params are not base64: %v", err)
	}
	params := string(decoded)
	if !strings.Contains(params, "m=merchant123") {
		t.Errorf("params %q missing merchant id", params)
	}
	if !strings.Contains(params, "ac.invoice_number=INV-1234ABCD5678") {
		t.Errorf("params %q missing invoice reference", params)
	}
	// 150.50 in tiyin.
	if !strings.Contains(params, "a=15050") {
		t.Errorf("params %q missing amount in tiyin", params)
	}
}

func TestInitiatePaymentRequiresMerchantId(t *testing.T) {
	t.Setenv("PAYME_MERCHANT_ID", "")
	ch := New()
	if _, err := ch.InitiatePayment(context.Background(), &models.Invoice{}, ""); err == nil {
		t.Fatal("missing merchant id accepted")
	}
}

func TestVerifySignatureUsesConfiguredSecret(t *testing.T) {
	t.Setenv("PAYME_SECRET_KEY", "payme_secret")
	ch := New()
	body := []byte(`{"transaction_id":"TXN-1","invoice_number":"INV-1","status":"paid"}`)
	if !ch.VerifySignature(body, payment.SignPayload("payme_secret", body)) {
		t.Error("valid signature rejected")
	}
	if ch.VerifySignature(body, payment.SignPayload("wrong", body)) {
		t.Error("signature under wrong secret accepted")
	}
}
