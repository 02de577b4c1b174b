package services

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AppleJWSVerifier checks App Store signed payloads against the certificate chain
// carried in their x5c header. The chain must end at one of the configured roots.
type AppleJWSVerifier struct {
	roots     *x509.CertPool
	parser    *jwt.Parser
	now       func() time.Time
	certCache map[string]*x509.Certificate
	mutex     sync.RWMutex
}

// NewAppleJWSVerifier trusts the PEM encoded root certificates in rootsPEM.
// Literal \n sequences are accepted, as found in env files.
func NewAppleJWSVerifier(rootsPEM string) (*AppleJWSVerifier, error) {
	rest := []byte(strings.ReplaceAll(rootsPEM, `\n`, "\n"))
	roots := x509.NewCertPool()
	count := 0
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse apple root certificate: %w", err)
		}
		roots.AddCert(cert)
		count++
	}
	if count == 0 {
		return nil, fmt.Errorf("no apple root certificate found")
	}

	return &AppleJWSVerifier{
		roots:     roots,
		parser:    jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}), jwt.WithoutClaimsValidation()),
		now:       time.Now,
		certCache: make(map[string]*x509.Certificate),
	}, nil
}

// WithClock replaces the clock used to check certificate validity
func (v *AppleJWSVerifier) WithClock(now func() time.Time) *AppleJWSVerifier {
	v.now = now
	return v
}

// Decode verifies jws and unmarshals its payload into out
func (v *AppleJWSVerifier) Decode(jws string, out interface{}) error {
	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(jws, claims, v.signingKey); err != nil {
		return fmt.Errorf("failed to verify JWS: %w", err)
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// signingKey returns the leaf public key once the x5c chain verifies
func (v *AppleJWSVerifier) signingKey(token *jwt.Token) (interface{}, error) {
	chain, err := v.certificateChain(token.Header["x5c"])
	if err != nil {
		return nil, err
	}

	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}

	leaf := chain[0]
	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   v.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return nil, fmt.Errorf("untrusted certificate chain: %w", err)
	}

	key, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate does not contain an ECDSA public key")
	}
	return key, nil
}

// certificateChain parses the base64 DER certificates of an x5c header, leaf first
func (v *AppleJWSVerifier) certificateChain(header interface{}) ([]*x509.Certificate, error) {
	entries, ok := header.([]interface{})
	if !ok || len(entries) == 0 {
		return nil, fmt.Errorf("missing x5c certificate chain")
	}

	chain := make([]*x509.Certificate, 0, len(entries))
	for i, entry := range entries {
		encoded, ok := entry.(string)
		if !ok {
			return nil, fmt.Errorf("x5c entry %d is not a string", i)
		}

		v.mutex.RLock()
		cert, cached := v.certCache[encoded]
		v.mutex.RUnlock()
		if !cached {
			der, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return nil, fmt.Errorf("x5c entry %d: %w", i, err)
			}
			cert, err = x509.ParseCertificate(der)
			if err != nil {
				return nil, fmt.Errorf("x5c entry %d: %w", i, err)
			}

			v.mutex.Lock()
			v.certCache[encoded] = cert
			v.mutex.Unlock()
		}
		chain = append(chain, cert)
	}
	return chain, nil
}
