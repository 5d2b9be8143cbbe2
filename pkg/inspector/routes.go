package inspector

import "net/http"

// registerRoutes mounts every inspector route under the base path.
func (in *Inspector) registerRoutes(mux *http.ServeMux) {
	base := in.opts.BasePath

	// Dashboard and live events are open
	mux.HandleFunc("GET "+base, in.handleDashboard)
	mux.HandleFunc("GET "+base+"/{$}", in.handleDashboard)
	mux.HandleFunc("GET "+base+"/events", in.handleEvents)

	// Buffered records
	mux.HandleFunc("GET "+base+"/requests", in.protect(in.handleListRequests))
	mux.HandleFunc("GET "+base+"/requests/{id}", in.protect(in.handleGetRequest))
	mux.HandleFunc("GET "+base+"/entry/{id}", in.protect(in.handleEntry))
	mux.HandleFunc("GET "+base+"/status", in.protect(in.handleStatus))
	mux.HandleFunc("POST "+base+"/clear", in.protect(in.handleClear))
	mux.HandleFunc("POST "+base+"/replay", in.protect(in.handleReplay))

	// Auxiliary instrumentation
	mux.HandleFunc("GET "+base+"/websockets", in.protect(in.handleListMessages))
	mux.HandleFunc("GET "+base+"/websockets/connections", in.protect(in.handleListConnections))
	mux.HandleFunc("GET "+base+"/redis/status", in.protect(in.handleRedisStatus))

	// Persistence
	mux.HandleFunc("GET "+base+"/store/requests", in.protect(in.handleStoreQuery))
	mux.HandleFunc("GET "+base+"/store/export", in.protect(in.handleStoreExport))
	mux.HandleFunc("POST "+base+"/store/clear", in.protect(in.handleStoreClear))

	mux.Handle("GET "+base+"/metrics", in.protect(in.metrics.Handler().ServeHTTP))
}
