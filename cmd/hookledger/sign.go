package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mattjoyce/hookledger/internal/ledger"
	"github.com/mattjoyce/hookledger/internal/signature"
	"github.com/mattjoyce/hookledger/internal/webhook"
)

// runSign prints "<header>: <value>" for a payload so test deliveries can be
// sent with curl.
func runSign(args []string) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	providerName := fs.String("provider", "", "Provider family (payments, identity, sms, other)")
	secret := fs.String("secret", "", "Signing secret")
	endpoint := fs.String("endpoint", "", "Take provider, secret and signing URL from this configured endpoint path")
	configPath := fs.String("config", "", "Path to configuration (with --endpoint)")
	signingURL := fs.String("signing-url", "", "URL the provider signs with the body (sms)")
	file := fs.String("file", "", "Payload file (default stdin)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	var provider ledger.Provider
	header := ""
	key := *secret
	url := *signingURL

	if *endpoint != "" {
		cfg, _, err := loadConfigForTool(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		found := false
		for _, ep := range cfg.Webhooks.Endpoints {
			if ep.Path != *endpoint {
				continue
			}
			found = true
			provider, err = ledger.ParseProvider(ep.Provider)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return 1
			}
			header = ep.SignatureHeader
			if key == "" {
				key, _ = ep.ResolveSecret(cfg.LookupEnv)
			}
			if url == "" {
				url = ep.SigningURL
			}
		}
		if !found {
			fmt.Fprintf(os.Stderr, "Error: endpoint %q not configured\n", *endpoint)
			return 1
		}
	} else {
		p, err := ledger.ParseProvider(*providerName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		provider = p
	}

	if key == "" {
		fmt.Fprintln(os.Stderr, "Error: secret required (--secret, or an endpoint with a resolvable secret)")
		return 1
	}
	if header == "" {
		header = webhook.DefaultSignatureHeader(provider)
	}

	var payload []byte
	var err error
	if *file != "" {
		payload, err = os.ReadFile(*file)
	} else {
		payload, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: read payload: %v\n", err)
		return 1
	}

	value, ok := signature.Verifier{SigningURL: url}.Sign(provider, payload, key)
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: no signature scheme for provider %s\n", provider)
		return 1
	}
	fmt.Printf("%s: %s\n", header, value)
	return 0
}
