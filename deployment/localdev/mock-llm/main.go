// Command mock-llm fakes an Ollama-style generate endpoint with jittered
// latency so the prober and control rules can be exercised locally without a
// real model server.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"time"
)

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func main() {
	addr := flag.String("addr", ":11434", "listen address")
	baseLatency := flag.Duration("latency", 250*time.Millisecond, "base response latency")
	jitter := flag.Duration("jitter", 100*time.Millisecond, "max extra random latency")
	spikeEvery := flag.Int("spike-every", 0, "inject a 10x latency spike every N requests (0 disables)")
	flag.Parse()

	var requests int

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		requests++
		delay := *baseLatency
		if *jitter > 0 {
			delay += time.Duration(rand.Int63n(int64(*jitter)))
		}
		if *spikeEvery > 0 && requests%*spikeEvery == 0 {
			delay *= 10
		}
		time.Sleep(delay)

		writeJSON(w, generateResponse{
			Model:    req.Model,
			Response: "pong",
			Done:     true,
		})
	})

	log.Printf("mock-llm listening on %s", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatal(err)
	}
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}
