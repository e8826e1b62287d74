package health

import (
	"net/http"
	"sync/atomic"
)

// Readiness flips to ready once the race has started polling.
type Readiness struct {
	ready atomic.Bool
}

func (r *Readiness) MarkReady() { r.ready.Store(true) }

func (r *Readiness) Ready() bool { return r.ready.Load() }

func Register(mux *http.ServeMux, r *Readiness) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if r == nil || !r.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("waiting"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
}
