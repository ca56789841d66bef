package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthURL(t *testing.T) {
	t.Setenv("TOKENGATE_PORT", "")
	assert.Equal(t, "http://localhost:8080/health", healthURL())

	t.Setenv("TOKENGATE_PORT", "9191")
	assert.Equal(t, "http://localhost:9191/health", healthURL())
}

func TestRun(t *testing.T) {
	var userAgent string
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.UserAgent()
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	assert.Equal(t, 0, run(healthy.URL+"/health"))
	assert.True(t, strings.HasPrefix(userAgent, "tokengate-healthcheck/"), userAgent)

	assert.Equal(t, 1, run(unhealthy.URL+"/health"))
	assert.Equal(t, 1, run("http://127.0.0.1:1/health"))
}
