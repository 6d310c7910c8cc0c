package main

import (
	"net/http"
	"os"
	"time"
)

func main() {
	addr := "http://localhost:7777"
	if v := os.Getenv("HARNESS_HEALTH_URL"); v != "" {
		addr = v
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(addr + "/__admin/health")
	if err != nil || resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
