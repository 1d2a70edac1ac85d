// Seed script for loading demo claims into a running Credal instance.
// Run with: go run ./scripts/seed.go
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
)

type seedClaim struct {
	Key        string
	Value      map[string]any
	Confidence float64
	AgentID    string
	Role       string
}

var demoClaims = []seedClaim{
	{"delivery_eta_days", number(2), 0.7, "planner", "scheduler"},
	{"delivery_eta_days", number(5), 0.8, "tracker", "telemetry"},
	{"delivery_eta_days", number(4.5), 0.6, "dispatcher", "ops"},
	{"warehouse_open", boolean(true), 0.9, "sensor-a", "sensor"},
	{"warehouse_open", boolean(false), 0.4, "sensor-b", "sensor"},
	{"carrier_name", text("acme-freight"), 0.95, "dispatcher", "ops"},
	{"carrier_name", text("acme-freight"), 0.7, "planner", "scheduler"},
	{"shipment_summary", record(map[string]any{
		"weight_kg": number(120),
		"priority":  text("high"),
	}), 0.8, "dispatcher", "ops"},
}

func main() {
	envFile := os.Getenv("CREDAL_ENV")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	baseURL := "http://localhost:" + port

	fmt.Printf("Seeding %d demo claims into %s\n", len(demoClaims), baseURL)

	for _, c := range demoClaims {
		body, _ := json.Marshal(map[string]any{
			"key":        c.Key,
			"value":      c.Value,
			"confidence": c.Confidence,
			"agent_id":   c.AgentID,
			"role":       c.Role,
		})
		resp, err := http.Post(baseURL+"/v1/claims", "application/json", bytes.NewReader(body))
		if err != nil {
			log.Fatalf("Failed to submit claim for %q: %v", c.Key, err)
		}
		if resp.StatusCode != http.StatusCreated {
			out, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			log.Fatalf("Claim for %q rejected with %d: %s", c.Key, resp.StatusCode, out)
		}
		resp.Body.Close()
		fmt.Printf("  %s <- %s (agent %s)\n", c.Key, valueString(c.Value), c.AgentID)
	}

	fmt.Println()
	fmt.Println("Done. Try:")
	fmt.Printf("  curl %s/v1/beliefs/delivery_eta_days\n", baseURL)
	fmt.Printf("  curl %s/v1/disputes\n", baseURL)
}

func number(n float64) map[string]any {
	return map[string]any{"kind": "number", "number": n}
}

func boolean(b bool) map[string]any {
	return map[string]any{"kind": "bool", "bool": b}
}

func text(s string) map[string]any {
	return map[string]any{"kind": "text", "text": s}
}

func record(fields map[string]any) map[string]any {
	return map[string]any{"kind": "record", "fields": fields}
}

func valueString(v map[string]any) string {
	out, _ := json.Marshal(v)
	return string(out)
}
