package app

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
)

// The built-in app keeps the binary runnable without an embedding program.
// It answers a health probe and echoes request bodies, which is also handy
// for exercising drain behavior in integration tests.
func init() {
	_ = Register("default", func() (http.Handler, error) {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "OK"})
		})
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"app": "default",
				"pid": os.Getpid(),
			})
		})
		mux.HandleFunc("POST /echo", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = io.Copy(w, r.Body)
		})
		return mux, nil
	})
}
