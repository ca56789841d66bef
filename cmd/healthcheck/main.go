// Package main is a minimal HTTP health check binary for use in distroless
// containers. It exits 0 when the gateway's /health endpoint returns HTTP
// 200, and 1 otherwise. Compile with CGO_ENABLED=0 for a fully static binary.
package main

import (
	"net/http"
	"os"
	"time"

	"tokengate/internal/version"
)

func main() {
	os.Exit(run(healthURL()))
}

// healthURL targets TOKENGATE_PORT on localhost, defaulting to 8080.
func healthURL() string {
	port := os.Getenv("TOKENGATE_PORT")
	if port == "" {
		port = "8080"
	}
	return "http://localhost:" + port + "/health"
}

func run(url string) int {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 1
	}
	req.Header.Set("User-Agent", version.GetInfo().UserAgent("healthcheck"))

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 1
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
