package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/benvon/portal-identity/internal/autherr"
	"github.com/benvon/portal-identity/internal/models"
)

type authorizeForm struct {
	Provider string `validate:"required"`
	Mode     string `validate:"flow_mode"`
}

func TestStruct_CustomTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   any
		wantErr bool
	}{
		{"login mode", authorizeForm{Provider: "google", Mode: "login"}, false},
		{"empty mode", authorizeForm{Provider: "google"}, false},
		{"unknown mode", authorizeForm{Provider: "google", Mode: "SIGNUP"}, true},
		{"missing provider", authorizeForm{Mode: "BINDING"}, true},
		{"valid key", models.PublicKeyConfig{Kid: "k1", Format: models.KeyFormatPEM, Algorithm: "RS256", Value: "pem"}, false},
		{"hmac algorithm rejected", models.PublicKeyConfig{Kid: "k1", Format: models.KeyFormatJWK, Algorithm: "HS256", Value: "{}"}, true},
		{"unknown format rejected", models.PublicKeyConfig{Kid: "k1", Format: "DER", Algorithm: "ES256", Value: "x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Struct(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Struct() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, autherr.ErrInvalidRequest) {
				t.Errorf("Expected InvalidRequest, got %v", err)
			}
		})
	}
}

func TestStruct_NamesFields(t *testing.T) {
	t.Parallel()

	err := Struct(authorizeForm{Mode: "nope"})
	if err == nil {
		t.Fatal("Expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "Provider") || !strings.Contains(msg, "flow_mode") {
		t.Errorf("Expected field names in error, got %q", msg)
	}
}

func TestSanitizeText(t *testing.T) {
	t.Parallel()

	if got := SanitizeText("  Jane\x00 Doe \n"); got != "Jane Doe" {
		t.Errorf("SanitizeText() = %q", got)
	}
}
