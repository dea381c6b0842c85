package main

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type discoveryDocument struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	url := fs.String("url", "https://localhost:9000/.well-known/openid-configuration", "discovery URL to probe")
	timeout := fs.Duration("timeout", 3*time.Second, "request timeout")
	wantIssuer := fs.String("expected-issuer", "", "fail unless the issuer matches")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := &http.Client{
		Timeout: *timeout,
		Transport: &http.Transport{
			// The local issuer uses a self-signed cert.
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	resp, err := client.Get(*url)
	if err != nil {
		return fmt.Errorf("discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var doc discoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode discovery document: %w", err)
	}
	if strings.TrimSpace(doc.Issuer) == "" {
		return errors.New("discovery document missing issuer")
	}
	if strings.TrimSpace(doc.JWKSURI) == "" {
		return errors.New("discovery document missing jwks_uri")
	}
	if *wantIssuer != "" && doc.Issuer != *wantIssuer {
		return fmt.Errorf("issuer mismatch: got %q want %q", doc.Issuer, *wantIssuer)
	}

	fmt.Printf("issuer %s ok (jwks at %s)\n", doc.Issuer, doc.JWKSURI)
	return nil
}
