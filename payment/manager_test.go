package payment

import (
	"context"
	"testing"

	"bitbucket.org/openscholar/ujmp_backend/models"
)

type fakeChannel struct {
	name models.PaymentProvider
}

func (f *fakeChannel) Name() models.PaymentProvider { return f.name }
func (f *fakeChannel) InitiatePayment(context.Context, *models.Invoice, string) (string, error) {
	return "", nil
}
func (f *fakeChannel) VerifySignature([]byte, string) bool { return false }
func (f *fakeChannel) ParseEvent([]byte) (*Event, error)   { return nil, nil }

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	Register(&fakeChannel{name: models.ProviderPayme})

	if Get("PAYME") == nil {
		t.Error("exact name not found")
	}
	if Get("payme") == nil {
		t.Error("lowercase name not found")
	}
	if Get("Payme") == nil {
		t.Error("mixed case name not found")
	}
	if Get("stripe") != nil {
		t.Error("unknown provider resolved")
	}
}
