package main

import (
	"crypto/rsa"
	"flag"
	"fmt"
	"os/user"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type tokenSpec struct {
	Issuer   string
	Audience []string
	Subject  string
	KID      string
	TTL      time.Duration
}

func runMint(args []string) error {
	defaultSubject := "dev-user"
	if current, err := user.Current(); err == nil {
		defaultSubject = current.Username
	}

	fs := flag.NewFlagSet("mint", flag.ExitOnError)
	keyPath := fs.String("key", ".auth/"+privateKeyFile, "path to the RSA signing key")
	issuer := fs.String("issuer", "https://localhost:9000", "token issuer")
	audience := fs.String("audience", "crudsql", "token audience, comma-separated for multiple")
	subject := fs.String("subject", defaultSubject, "token subject")
	kid := fs.String("kid", "local-key", "key ID header")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key, err := loadSigningKey(*keyPath)
	if err != nil {
		return err
	}

	signed, err := signToken(key, tokenSpec{
		Issuer:   *issuer,
		Audience: splitList(*audience),
		Subject:  *subject,
		KID:      *kid,
		TTL:      *ttl,
	})
	if err != nil {
		return err
	}

	fmt.Println(signed)
	return nil
}

func signToken(key *rsa.PrivateKey, spec tokenSpec) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": spec.Issuer,
		"sub": spec.Subject,
		"aud": spec.Audience,
		"iat": now.Unix(),
		"exp": now.Add(spec.TTL).Unix(),
		"nbf": now.Add(-time.Minute).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = spec.KID
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
