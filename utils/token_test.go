package utils

import (
	"testing"
)

func TestJwtRoundTrip(t *testing.T) {
	t.Setenv("API_SECRET", "roundtrip-secret")

	token, err := JwtGenerate(42, "Aziza Rakhimova", "AUTHOR")
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}

	parsed, err := JwtValidate(token)
	if err != nil {
		t.Fatalf("JwtValidate: %v", err)
	}
	if !parsed.Valid {
		t.Fatal("token not valid")
	}
	claims, ok := parsed.Claims.(*JwtCustomClaim)
	if !ok {
		t.Fatal("claims have wrong type")
	}
	if claims.ID != 42 || claims.Name != "Aziza Rakhimova" || claims.Role != "AUTHOR" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestJwtValidateRejectsWrongSecret(t *testing.T) {
	t.Setenv("API_SECRET", "secret-a")
	token, err := JwtGenerate(1, "x", "ADMIN")
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}

	t.Setenv("API_SECRET", "secret-b")
	parsed, err := JwtValidate(token)
	if err == nil && parsed.Valid {
		t.Fatal("token under wrong secret accepted")
	}
}

func TestJwtValidateRejectsGarbage(t *testing.T) {
	if parsed, err := JwtValidate("not.a.token"); err == nil && parsed.Valid {
		t.Fatal("garbage token accepted")
	}
}
