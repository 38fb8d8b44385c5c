// Package main provides a minimal HTTP healthcheck binary for planhub
// container images, which carry no shell or curl. It performs a GET request
// against the readiness endpoint and exits with code 0 on success (2xx) or
// code 1 on failure.
//
// Usage: healthcheck [url]
// The URL defaults to PLANHUB_HEALTH_URL, then http://localhost:8080/readyz.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"
)

func main() {
	url := "http://localhost:8080/readyz"
	if v := os.Getenv("PLANHUB_HEALTH_URL"); v != "" {
		url = v
	}
	if len(os.Args) > 1 {
		url = os.Args[1]
	}

	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		os.Exit(0)
	}

	fmt.Fprintf(os.Stderr, "healthcheck failed: status %d\n", resp.StatusCode)
	os.Exit(1)
}
