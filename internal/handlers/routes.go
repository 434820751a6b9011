package handlers

import "net/http"

// Routes registers the application routes on a new mux. Callers wrap it
// with RequireIdentity and RequestLogger.
func Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Static Files - Register more specific patterns first or use exact matches where possible
	fs := http.FileServer(http.Dir("./static"))
	mux.Handle("GET /static/", http.StripPrefix("/static/", fs))

	// "GET /{$}" matches ONLY the root path.
	mux.HandleFunc("GET /{$}", HandleSubnetList)
	mux.HandleFunc("POST /subnets", HandleCreateSubnet)
	mux.HandleFunc("DELETE /subnets/{id}", HandleDeleteSubnet)
	mux.HandleFunc("POST /subnets/{id}/edit", HandleUpdateSubnet)

	mux.HandleFunc("GET /subnets/{id}", HandleSubnetDetail)
	mux.HandleFunc("POST /subnets/{id}/claim", HandleClaimIP)
	mux.HandleFunc("GET /subnets/{id}/stale.csv", HandleStaleCSV)

	mux.HandleFunc("POST /allocations/{id}/release", HandleReleaseIP)
	mux.HandleFunc("GET /allocations/{id}/history", HandleAllocationHistory)

	return mux
}
