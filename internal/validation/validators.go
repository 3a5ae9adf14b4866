package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/benvon/portal-identity/internal/autherr"
	"github.com/benvon/portal-identity/internal/models"
	"github.com/go-playground/validator/v10"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate
)

// SignatureAlgorithms are the asymmetric JWS algorithms accepted for partner keys.
var SignatureAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
}

func init() {
	Validate = validator.New()

	// Register custom validators for enums
	if err := Validate.RegisterValidation("flow_mode", validateFlowMode); err != nil {
		panic(fmt.Sprintf("failed to register flow_mode validator: %v", err))
	}
	if err := Validate.RegisterValidation("key_format", validateKeyFormat); err != nil {
		panic(fmt.Sprintf("failed to register key_format validator: %v", err))
	}
	if err := Validate.RegisterValidation("signature_alg", validateSignatureAlg); err != nil {
		panic(fmt.Sprintf("failed to register signature_alg validator: %v", err))
	}
}

// validateFlowMode accepts LOGIN or BINDING in any case; empty means LOGIN
func validateFlowMode(fl validator.FieldLevel) bool {
	switch strings.ToUpper(fl.Field().String()) {
	case "", "LOGIN", "BINDING":
		return true
	default:
		return false
	}
}

// validateKeyFormat validates a models.KeyFormat value
func validateKeyFormat(fl validator.FieldLevel) bool {
	switch models.KeyFormat(fl.Field().String()) {
	case models.KeyFormatPEM, models.KeyFormatJWK:
		return true
	default:
		return false
	}
}

func validateSignatureAlg(fl validator.FieldLevel) bool {
	return IsSignatureAlgorithm(fl.Field().String())
}

// IsSignatureAlgorithm reports whether alg is an accepted partner key algorithm.
func IsSignatureAlgorithm(alg string) bool {
	alg = strings.ToUpper(strings.TrimSpace(alg))
	for _, a := range SignatureAlgorithms {
		if a == alg {
			return true
		}
	}
	return false
}

// Struct validates v and converts failures to an InvalidRequest error naming
// the offending fields.
func Struct(v any) error {
	err := Validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return autherr.Wrap(autherr.KindInvalidRequest, "invalid request", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return autherr.Wrap(autherr.KindInvalidRequest, "invalid fields: "+strings.Join(fields, ", "), err)
}

// SanitizeText sanitizes text input by trimming whitespace and removing control characters
func SanitizeText(text string) string {
	// Trim whitespace
	text = strings.TrimSpace(text)

	// Remove control characters except newline and tab
	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		sanitized.WriteRune(r)
	}

	return sanitized.String()
}
