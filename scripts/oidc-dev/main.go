// Command oidc-dev is a local development helper for the OIDC auth stack.
// It generates RSA signing keys, serves a minimal OIDC discovery and JWKS
// endpoint, mints test tokens, and probes a running issuer.
//
// Typical flow:
//
//	oidc-dev keygen
//	oidc-dev serve --dev-token-admin-token secret &
//	oidc-dev mint --subject alice
//	oidc-dev check
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "mint":
		err = runMint(os.Args[2:])
	case "check":
		err = runCheck(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: oidc-dev <command> [flags]

commands:
  keygen  generate an RSA signing key pair under .auth/
  serve   run a local OIDC discovery + JWKS server
  mint    sign a test token with the local private key
  check   probe an issuer's discovery document`)
}
