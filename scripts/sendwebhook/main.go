// Package main signs a webhook body and posts it to a running API, or asks the
// admin endpoint to replay a stored event.
//
// Usage:
//
//	WEBHOOK_SECRET=... API_BASE_URL=... go run ./scripts/sendwebhook asaas <tenant> payload.json
//	ADMIN_JWT_SECRET=... API_BASE_URL=... go run ./scripts/sendwebhook replay <event-ref>
package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/clinic-webhooks/internal/webhooks"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: sendwebhook <provider> <tenant> <payload.json> | sendwebhook replay <event-ref>")
		os.Exit(2)
	}
	apiBase := strings.TrimRight(envOr("API_BASE_URL", "http://localhost:8080"), "/")

	var (
		req *http.Request
		err error
	)
	if os.Args[1] == "replay" {
		req, err = replayRequest(apiBase, os.Args[2])
	} else {
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "payload file required")
			os.Exit(2)
		}
		req, err = webhookRequest(apiBase, os.Args[1], os.Args[2], os.Args[3])
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request failed:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("%d %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode >= 300 {
		os.Exit(1)
	}
}

func webhookRequest(apiBase, provider, tenant, path string) (*http.Request, error) {
	secret := os.Getenv("WEBHOOK_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/webhooks/%s/%s", apiBase, provider, tenant), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(envOr("WEBHOOK_SIGNATURE_HEADER", "X-Webhook-Signature"), "sha256="+webhooks.Sign(body, secret))
	return req, nil
}

func replayRequest(apiBase, ref string) (*http.Request, error) {
	secret := os.Getenv("ADMIN_JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("ADMIN_JWT_SECRET is required")
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   envOr("ADMIN_SUBJECT", "ops-cli"),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}).SignedString([]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("sign admin token: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/admin/webhooks/%s/replay", apiBase, ref), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
