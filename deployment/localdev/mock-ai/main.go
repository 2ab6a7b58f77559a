package main

import (
	"encoding/json"
	"hash/fnv"
	"log"
	"net/http"
	"time"
)

// Serves a fake OpenAI-compatible backend so the assistant can run locally
// without an API key. Embeddings are deterministic hashes of the input text;
// completions return a fixed, valid analysis shape.

type embeddingRequest struct {
	Input []string `json:"input"`
}

type chatRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

const dimensions = 64

func embed(text string) []float64 {
	vector := make([]float64, dimensions)
	h := fnv.New64a()
	for i := range vector {
		h.Write([]byte(text))
		h.Write([]byte{byte(i)})
		vector[i] = float64(h.Sum64()%2000)/1000 - 1
	}
	return vector
}

const cannedAnalysis = `{
  "severity": "high",
  "category": "memory",
  "summary": "메모리 사용량이 한도에 근접했습니다.",
  "root_cause_analysis": "maxmemory 대비 used_memory가 높아 쓰기 명령이 거부될 수 있습니다.",
  "immediate_actions": ["INFO memory 확인", "대형 키 점검"],
  "detailed_steps": [
    {"step": 1, "action": "메모리 상태 확인", "command": "redis-cli info memory", "expected_result": "used_memory, maxmemory 수치"}
  ],
  "prevention_tips": ["maxmemory-policy 설정 점검"],
  "confidence_score": 0.4
}`

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data := make([]map[string]any, len(req.Input))
		for i, text := range req.Input {
			data[i] = map[string]any{"index": i, "embedding": embed(text)}
		}
		writeJSON(w, map[string]any{"data": data})
	})

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": cannedAnalysis}},
			},
		})
	})

	logger := log.New(log.Writer(), "ai-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":11434",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :11434")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
