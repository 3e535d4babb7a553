// Package signer applies XMLDSig enveloped signatures to DPS and event
// documents using certificates resolved by thumbprint.
package signer

import (
	"context"
	"crypto/rsa"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// Signer turns unsigned XML into signed XML or a classified *model.SigningError
type Signer interface {
	Sign(ctx context.Context, unsigned []byte, ref CertificateRef) ([]byte, error)
}

// CertificateRef selects the signing certificate
type CertificateRef struct {
	Thumbprint string `json:"thumbprint"`
}

// IDAttribute names the attribute the signature reference points at
const IDAttribute = "Id"

// XMLSigner signs with RSA-SHA256 and inclusive C14N 1.0
type XMLSigner struct {
	source     CertificateSource
	revocation RevocationChecker
	softFail   bool
	clock      func() time.Time
	logger     *slog.Logger
}

// Option configures an XMLSigner
type Option func(*XMLSigner)

// WithRevocationChecker enables revocation checks; with softFail an
// unreachable responder only logs a warning
func WithRevocationChecker(checker RevocationChecker, softFail bool) Option {
	return func(s *XMLSigner) {
		s.revocation = checker
		s.softFail = softFail
	}
}

// WithClock injects the clock used for validity checks
func WithClock(clock func() time.Time) Option {
	return func(s *XMLSigner) {
		s.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *XMLSigner) {
		s.logger = logger
	}
}

// New creates a signer over source
func New(source CertificateSource, opts ...Option) *XMLSigner {
	s := &XMLSigner{
		source: source,
		clock:  time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve returns the validated bundle for ref
func (s *XMLSigner) Resolve(ctx context.Context, ref CertificateRef) (*Bundle, error) {
	thumbprint := NormalizeThumbprint(ref.Thumbprint)
	bundle, err := s.source.Lookup(ctx, thumbprint)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrCertNotFound(thumbprint)
		}
		se := ErrCertNotFound(thumbprint)
		se.Cause = err
		return nil, se
	}
	if bundle == nil || bundle.Certificate == nil {
		return nil, ErrCertNotFound(thumbprint)
	}

	cert := bundle.Certificate
	now := s.clock()
	if now.After(cert.NotAfter) {
		return nil, ErrCertExpired(thumbprint, cert.Subject.CommonName, cert.NotAfter.Format(time.RFC3339))
	}
	if now.Before(cert.NotBefore) {
		return nil, ErrCertNotYetValid(thumbprint, cert.Subject.CommonName, cert.NotBefore.Format(time.RFC3339))
	}

	if s.revocation != nil {
		if issuer := bundle.Issuer(); issuer != nil {
			revoked, err := s.revocation.Revoked(ctx, cert, issuer)
			switch {
			case err != nil && s.softFail:
				s.logger.Warn("revocation check unavailable",
					slog.String("thumbprint", thumbprint),
					slog.String("error", err.Error()))
			case err != nil:
				return nil, ErrRevocationUnavailable(thumbprint, err)
			case revoked:
				return nil, ErrCertRevoked(thumbprint, cert.Subject.CommonName)
			}
		}
	}

	if bundle.PrivateKey == nil {
		return nil, ErrKeyUnavailable(thumbprint, errors.New("bundle has no private key"))
	}
	if !publicKeysEqual(cert.PublicKey, bundle.PrivateKey.Public()) {
		return nil, ErrKeyUnavailable(thumbprint, errors.New("private key does not match certificate"))
	}
	return bundle, nil
}

// Sign signs the first root child carrying an Id attribute (infDPS, infPedReg)
// and appends <Signature> to the root, after the signed element.
func (s *XMLSigner) Sign(ctx context.Context, unsigned []byte, ref CertificateRef) ([]byte, error) {
	bundle, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	thumbprint := bundle.Thumbprint()

	key, ok := bundle.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrKeyUnavailable(thumbprint, errors.New("only RSA keys are supported for XMLDSig"))
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(unsigned); err != nil {
		return nil, ErrSignRejected(thumbprint, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, ErrSignRejected(thumbprint, errors.New("empty document"))
	}
	if findChild(root, "Signature") != nil {
		return nil, ErrSignRejected(thumbprint, errors.New("document is already signed"))
	}
	target := signedElement(root)
	if target == nil {
		return nil, ErrSignRejected(thumbprint, errors.New("no element with an Id attribute to sign"))
	}

	// in-context C14N carries the inherited default namespace onto the apex
	if target.SelectAttr("xmlns") == nil {
		if ns := root.SelectAttrValue("xmlns", ""); ns != "" {
			target.CreateAttr("xmlns", ns)
		}
	}

	signingCtx := dsig.NewDefaultSigningContext(keyStore{key: key, cert: bundle.Certificate.Raw})
	signingCtx.Prefix = ""
	signingCtx.IdAttribute = IDAttribute
	signingCtx.Canonicalizer = dsig.MakeC14N10RecCanonicalizer()
	if err := signingCtx.SetSignatureMethod(dsig.RSASHA256SignatureMethod); err != nil {
		return nil, ErrSignRejected(thumbprint, err)
	}

	sig, err := signingCtx.ConstructSignature(target, true)
	if err != nil {
		return nil, ErrSignRejected(thumbprint, err)
	}
	root.AddChild(sig)

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, ErrSignRejected(thumbprint, err)
	}

	s.logger.Debug("document signed",
		slog.String("element", target.Tag),
		slog.String("id", target.SelectAttrValue(IDAttribute, "")),
		slog.String("thumbprint", thumbprint))
	return out, nil
}

// keyStore adapts a bundle to dsig.X509KeyStore
type keyStore struct {
	key  *rsa.PrivateKey
	cert []byte
}

func (k keyStore) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	return k.key, k.cert, nil
}

func signedElement(root *etree.Element) *etree.Element {
	for _, child := range root.ChildElements() {
		if child.SelectAttr(IDAttribute) != nil {
			return child
		}
	}
	return nil
}

func findChild(el *etree.Element, localName string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == localName {
			return child
		}
	}
	return nil
}
