package httpapi

import "net/http"

// NewRouter wires the console-facing paths plus the metrics endpoint.
func NewRouter(svc *Service, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/outbox/upload", svc.handleUploadMessage)
	mux.HandleFunc("/outbox/mboxlist", svc.handleUploadBoxList)
	mux.HandleFunc("/location/", svc.handleLocation)
	mux.HandleFunc("/inbox/", svc.handleInbox)
	mux.HandleFunc("/data", svc.handleData)
	mux.HandleFunc("/ping", svc.handlePing)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusNotFound, "path not found")
	})
	return mux
}
