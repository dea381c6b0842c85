package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type issuerConfig struct {
	Issuer   string
	Audience []string
	KID      string
	JWKS     []byte

	// Token vending is opt-in and gated behind a shared admin token.
	VendKey        *rsa.PrivateKey
	VendAdminToken string
	VendDefaultTTL time.Duration
	VendMaxTTL     time.Duration
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", ":9000", "listen address")
	issuer := fs.String("issuer", "https://localhost:9000", "issuer URL to advertise")
	audience := fs.String("audience", "crudsql", "expected token audience, comma-separated for multiple")
	publicKeyPath := fs.String("public-key", ".auth/"+publicKeyFile, "path to the RSA public key")
	kid := fs.String("kid", "local-key", "key ID to advertise")
	withTLS := fs.Bool("tls", true, "serve HTTPS with a self-signed certificate")
	certPath := fs.String("tls-cert", ".auth/oidc_dev_tls.crt", "TLS certificate path")
	keyPath := fs.String("tls-key", ".auth/oidc_dev_tls.key", "TLS key path")
	adminToken := fs.String("dev-token-admin-token", "", "enable POST /dev/token, guarded by this shared token")
	signingKeyPath := fs.String("dev-token-key", ".auth/"+privateKeyFile, "RSA signing key for vended tokens")
	defaultTTL := fs.Duration("dev-token-ttl", 24*time.Hour, "default vended token lifetime")
	maxTTL := fs.Duration("dev-token-max-ttl", 7*24*time.Hour, "maximum vended token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	verifyKey, err := loadVerifyKey(*publicKeyPath)
	if err != nil {
		return err
	}
	jwksPayload, err := marshalJWKS(verifyKey, *kid)
	if err != nil {
		return err
	}

	cfg := issuerConfig{
		Issuer:         *issuer,
		Audience:       splitList(*audience),
		KID:            *kid,
		JWKS:           jwksPayload,
		VendAdminToken: strings.TrimSpace(*adminToken),
		VendDefaultTTL: *defaultTTL,
		VendMaxTTL:     *maxTTL,
	}
	if len(cfg.Audience) == 0 {
		return errors.New("audience is required")
	}
	if cfg.VendAdminToken != "" {
		if cfg.VendDefaultTTL <= 0 || cfg.VendMaxTTL <= 0 || cfg.VendDefaultTTL > cfg.VendMaxTTL {
			return errors.New("dev-token-ttl must be positive and not exceed dev-token-max-ttl")
		}
		cfg.VendKey, err = loadSigningKey(*signingKeyPath)
		if err != nil {
			return err
		}
	}

	mux := issuerMux(cfg)

	if *withTLS {
		if err := ensureSelfSignedCert(*certPath, *keyPath); err != nil {
			return err
		}
		fmt.Printf("oidc-dev issuer listening on https://%s\n", *addr)
		return http.ListenAndServeTLS(*addr, *certPath, *keyPath, mux)
	}
	fmt.Fprintln(os.Stderr, "warning: serving without TLS")
	fmt.Printf("oidc-dev issuer listening on http://%s\n", *addr)
	return http.ListenAndServe(*addr, mux)
}

func issuerMux(cfg issuerConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{
			"issuer":   cfg.Issuer,
			"jwks_uri": cfg.Issuer + "/jwks",
		})
	})
	mux.HandleFunc("GET /jwks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(cfg.JWKS)
	})
	if cfg.VendAdminToken != "" && cfg.VendKey != nil {
		mux.HandleFunc("POST /dev/token", cfg.vendToken)
	}
	return mux
}

type vendRequest struct {
	Subject   string `json:"subject"`
	ExpiresIn string `json:"expires_in"`
}

type vendResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresAt string `json:"expires_at"`
}

func (cfg issuerConfig) vendToken(w http.ResponseWriter, r *http.Request) {
	provided := strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	if !tokensEqual(provided, cfg.VendAdminToken) {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req vendRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err == nil && len(body) > 0 {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	ttl := cfg.VendDefaultTTL
	if raw := strings.TrimSpace(req.ExpiresIn); raw != "" {
		ttl, err = time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "expires_in must be a positive duration"})
			return
		}
	}
	if ttl > cfg.VendMaxTTL {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("expires_in exceeds maximum of %s", cfg.VendMaxTTL),
		})
		return
	}

	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = "dev-user"
	}

	signed, err := signToken(cfg.VendKey, tokenSpec{
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		Subject:  subject,
		KID:      cfg.KID,
		TTL:      ttl,
	})
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to sign token"})
		return
	}

	respondJSON(w, http.StatusOK, vendResponse{
		Token:     signed,
		TokenType: "Bearer",
		ExpiresAt: time.Now().Add(ttl).UTC().Format(time.RFC3339),
	})
}

func tokensEqual(a, b string) bool {
	da := sha256.Sum256([]byte(a))
	db := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(da[:], db[:]) == 1
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type jwksDocument struct {
	Keys []jwksKey `json:"keys"`
}

type jwksKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func marshalJWKS(key *rsa.PublicKey, kid string) ([]byte, error) {
	return json.Marshal(jwksDocument{Keys: []jwksKey{{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}}})
}

func ensureSelfSignedCert(certPath, keyPath string) error {
	if fileExists(certPath) && fileExists(keyPath) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(certPath), 0o700); err != nil {
		return fmt.Errorf("create tls directory: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generate tls key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return fmt.Errorf("generate tls serial: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create tls certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return fmt.Errorf("write tls cert: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("write tls key: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
