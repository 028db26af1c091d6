package kalshi

// auth.go — firma RSA-PSS de requests al trade API.
//
// Cada request lleva tres headers:
//   KALSHI-ACCESS-KEY        key id del operador
//   KALSHI-ACCESS-SIGNATURE  base64(RSA-PSS-SHA256(timestamp||method||path))
//   KALSHI-ACCESS-TIMESTAMP  milisegundos Unix

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Signer firma requests con la clave privada RSA del operador.
type Signer struct {
	keyID string
	key   *rsa.PrivateKey
}

// NewSigner construye un Signer desde un PEM en memoria.
func NewSigner(keyID string, pemBytes []byte) (*Signer, error) {
	key, err := parsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("kalshi.NewSigner: %w", err)
	}
	return &Signer{keyID: keyID, key: key}, nil
}

// NewSignerFromFile construye un Signer leyendo el PEM de un archivo.
func NewSignerFromFile(keyID, path string) (*Signer, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kalshi.NewSignerFromFile: read %q: %w", path, err)
	}
	return NewSigner(keyID, pemBytes)
}

// Sign firma timestamp||method||path y devuelve la firma en base64.
// PSS con SHA-256 y salt de longitud máxima, como exige el venue.
func (s *Signer) Sign(timestampMs int64, method, path string) (string, error) {
	msg := strconv.FormatInt(timestampMs, 10) + method + path
	digest := sha256.Sum256([]byte(msg))

	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto, // salt máximo al firmar
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return "", fmt.Errorf("kalshi.Sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Apply añade los tres headers de autenticación a un request.
func (s *Signer) Apply(req *http.Request, now time.Time) error {
	ts := now.UnixMilli()
	sig, err := s.Sign(ts, req.Method, req.URL.Path)
	if err != nil {
		return err
	}
	req.Header.Set("KALSHI-ACCESS-KEY", s.keyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", sig)
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", strconv.FormatInt(ts, 10))
	return nil
}

// parsePrivateKey acepta PKCS#1 y PKCS#8.
func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want *rsa.PrivateKey", parsed)
	}
	return key, nil
}
