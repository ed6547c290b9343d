package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

var requestCount atomic.Int64

type mail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Message string `json:"message"`
	Route   string `json:"route"`
}

func main() {
	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}

	// Accepting endpoint — always returns 200 and prints the mail
	http.HandleFunc("/notify", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)

		body, _ := io.ReadAll(io.LimitReader(r.Body, 64<<10))
		var m mail
		json.Unmarshal(body, &m)
		logRequest(r, count, 200)
		fmt.Printf("      to=%s route=%s subject=%q\n", m.To, m.Route, m.Subject)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "delivered"})
	})

	// Slow endpoint — delays 3 seconds before responding
	http.HandleFunc("/notify/slow", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		time.Sleep(3 * time.Second)
		logRequest(r, count, 200)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "delivered (slow)"})
	})

	// Failing endpoint — always returns 500, for retry and dead letter testing
	http.HandleFunc("/notify/fail", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		logRequest(r, count, 500)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "smtp backend unavailable"})
	})

	// Stats endpoint — shows request count
	http.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{"total_requests": requestCount.Load()})
	})

	log.Printf("Mail sink starting on :%s", port)
	log.Printf("  POST /notify       -> 200 OK")
	log.Printf("  POST /notify/slow  -> 200 OK (3s delay)")
	log.Printf("  POST /notify/fail  -> 500 Error")
	log.Printf("  GET  /stats        -> request count")

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func logRequest(r *http.Request, count int64, status int) {
	fmt.Printf("[#%d] %s %s -> %d | sig=%s attempt=%s\n",
		count,
		r.Method,
		r.URL.Path,
		status,
		truncate(r.Header.Get("X-Notification-Signature"), 16),
		r.Header.Get("X-Notification-Attempt"),
	)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
