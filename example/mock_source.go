package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync/atomic"
)

// startMockMetricsSource runs a mock metrics endpoint that serves a small
// set of campaign rows with drifting numbers. Every tenth request answers
// 429 so the backoff path gets exercised. Call this in a goroutine before
// creating the tracker.
func startMockMetricsSource(addr string) {
	var hits atomic.Int64

	campaigns := []string{"Brand Search", "Generic Search", "Display Retargeting"}

	http.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if n%10 == 0 {
			slog.Info("mock source rate limiting", "hit", n)
			http.Error(w, "Resource has been exhausted. Retry in 15 seconds.", http.StatusTooManyRequests)
			return
		}

		subject := r.URL.Query().Get("subject_id")
		days, _ := strconv.Atoi(r.URL.Query().Get("window_days"))

		type row struct {
			Name   string `json:"name"`
			Fields []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"fields"`
		}

		rows := make([]row, 0, len(campaigns))
		for _, name := range campaigns {
			clicks := 100 + rand.Intn(900)
			cost := float64(clicks) * (0.5 + rand.Float64())
			var rr row
			rr.Name = name
			rr.Fields = []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			}{
				{Name: "clicks", Value: strconv.Itoa(clicks)},
				{Name: "cost", Value: fmt.Sprintf("%.2f", cost)},
			}
			rows = append(rows, rr)
		}

		slog.Debug("mock source serving rows",
			"subject_id", subject,
			"window_days", days,
			"rows", len(rows),
		)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rows)
	})

	if err := http.ListenAndServe(addr, nil); err != nil {
		slog.Error("mock source failed", "error", err)
	}
}
