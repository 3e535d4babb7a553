package signer

import (
	"fmt"

	"github.com/rezonia/nfse-issuer/internal/model"
)

// Error codes for signing failures
const (
	ErrCodeCertNotFound   = "CERT_NOT_FOUND"
	ErrCodeCertExpired    = "CERT_EXPIRED"
	ErrCodeCertRevoked    = "CERT_REVOKED"
	ErrCodeKeyUnavailable = "KEY_UNAVAILABLE"
	ErrCodeSignRejected   = "SIGN_REJECTED"
)

// Common error constructors

// ErrCertNotFound returns error when no certificate matches the reference
func ErrCertNotFound(thumbprint string) *model.SigningError {
	return model.NewSigningError(ErrCodeCertNotFound, thumbprint, "certificate not found", nil)
}

// ErrCertExpired returns error when the certificate is outside its validity window
func ErrCertExpired(thumbprint, subject string, notAfter string) *model.SigningError {
	return model.NewSigningError(ErrCodeCertExpired, thumbprint, fmt.Sprintf("certificate %s expired at %s", subject, notAfter), nil)
}

// ErrCertNotYetValid returns error when the certificate validity has not started
func ErrCertNotYetValid(thumbprint, subject string, notBefore string) *model.SigningError {
	return model.NewSigningError(ErrCodeCertExpired, thumbprint, fmt.Sprintf("certificate %s not valid before %s", subject, notBefore), nil)
}

// ErrCertRevoked returns error when the issuer reports the certificate as revoked
func ErrCertRevoked(thumbprint, subject string) *model.SigningError {
	return model.NewSigningError(ErrCodeCertRevoked, thumbprint, fmt.Sprintf("certificate revoked: %s", subject), nil)
}

// ErrRevocationUnavailable returns error when revocation cannot be checked in hard-fail mode
func ErrRevocationUnavailable(thumbprint string, cause error) *model.SigningError {
	return model.NewSigningError(ErrCodeCertRevoked, thumbprint, "revocation status unavailable", cause)
}

// ErrKeyUnavailable returns error when the private key is missing or unusable
func ErrKeyUnavailable(thumbprint string, cause error) *model.SigningError {
	return model.NewSigningError(ErrCodeKeyUnavailable, thumbprint, "private key unavailable", cause)
}

// ErrSignRejected returns error when the signing operation itself fails
func ErrSignRejected(thumbprint string, cause error) *model.SigningError {
	return model.NewSigningError(ErrCodeSignRejected, thumbprint, "signing operation rejected", cause)
}
