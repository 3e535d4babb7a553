package signer

import (
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// Verification reports on a signed document
type Verification struct {
	SignatureFound   bool              `json:"signature_found"`
	SignatureValid   bool              `json:"signature_valid"`
	SignedElement    string            `json:"signed_element,omitempty"`
	SignedID         string            `json:"signed_id,omitempty"`
	Signer           *x509.Certificate `json:"-"`
	SignerSubject    string            `json:"signer_subject,omitempty"`
	Thumbprint       string            `json:"thumbprint,omitempty"`
	NotBefore        time.Time         `json:"not_before,omitempty"`
	NotAfter         time.Time         `json:"not_after,omitempty"`
	CertificateValid bool              `json:"certificate_valid"`
	ChainChecked     bool              `json:"chain_checked"`
	ChainValid       bool              `json:"chain_valid"`
	Errors           []string          `json:"errors,omitempty"`
}

// Valid reports whether the signature and certificate both check out, and
// the chain when a trust store was given
func (v *Verification) Valid() bool {
	if v.ChainChecked && !v.ChainValid {
		return false
	}
	return v.SignatureFound && v.SignatureValid && v.CertificateValid
}

type verifyOptions struct {
	trust *TrustStore
}

// VerifyOption configures Verify
type VerifyOption func(*verifyOptions)

// WithTrustStore also verifies the signer chain against store
func WithTrustStore(store *TrustStore) VerifyOption {
	return func(o *verifyOptions) {
		o.trust = store
	}
}

func (v *Verification) addError(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Verify checks the enveloped signature of a document produced by Sign
// against the certificate embedded in KeyInfo. Trust in the issuer is only
// evaluated WithTrustStore.
func Verify(signed []byte, now time.Time, opts ...VerifyOption) (*Verification, error) {
	var o verifyOptions
	for _, opt := range opts {
		opt(&o)
	}
	result := &Verification{}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signed); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, errors.New("empty XML document")
	}

	sig := findChild(root, "Signature")
	target := signedElement(root)
	if sig == nil && target != nil {
		sig = findChild(target, "Signature")
	}
	if sig == nil {
		result.addError("no Signature element found in document")
		return result, nil
	}
	result.SignatureFound = true
	if target == nil {
		result.addError("no signed element with an Id attribute")
		return result, nil
	}
	result.SignedElement = target.Tag
	result.SignedID = target.SelectAttrValue(IDAttribute, "")

	cert, err := embeddedCertificate(sig)
	if err != nil {
		result.addError("certificate extraction: %v", err)
		return result, nil
	}
	result.Signer = cert
	result.SignerSubject = cert.Subject.CommonName
	result.Thumbprint = Thumbprint(cert)
	result.NotBefore = cert.NotBefore
	result.NotAfter = cert.NotAfter
	result.CertificateValid = !now.Before(cert.NotBefore) && !now.After(cert.NotAfter)
	if !result.CertificateValid {
		result.addError("certificate outside its validity period")
	}
	if o.trust != nil {
		result.ChainChecked = true
		if _, err := o.trust.VerifyChain(cert, nil, now); err != nil {
			result.addError("%v", err)
		} else {
			result.ChainValid = true
		}
	}

	// validate the signed element with the signature enveloped inside it
	el := target.Copy()
	if findChild(el, "Signature") == nil {
		el.AddChild(sig.Copy())
	}
	if el.SelectAttr("xmlns") == nil {
		if ns := root.SelectAttrValue("xmlns", ""); ns != "" {
			el.CreateAttr("xmlns", ns)
		}
	}

	validationCtx := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	})
	validationCtx.IdAttribute = IDAttribute
	if _, err := validationCtx.Validate(el); err != nil {
		result.addError("signature validation failed: %v", err)
	} else {
		result.SignatureValid = true
	}
	return result, nil
}

func embeddedCertificate(sig *etree.Element) (*x509.Certificate, error) {
	var certElem *etree.Element
	for _, path := range []string{
		"KeyInfo/X509Data/X509Certificate",
		"ds:KeyInfo/ds:X509Data/ds:X509Certificate",
	} {
		if certElem = sig.FindElement(path); certElem != nil {
			break
		}
	}
	if certElem == nil {
		return nil, errors.New("no X509Certificate in Signature")
	}
	text := strings.Join(strings.Fields(certElem.Text()), "")
	der, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("decode certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}
