package server

import "net/http"

// NewRouter wires HTTP routes to the server's handlers.
func NewRouter(s *Server) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /toc", s.handleTOC)
	mux.HandleFunc("GET /recordings", s.handleRecordings)
	mux.HandleFunc("GET /recordings/{name}", s.handleSummary)
	mux.HandleFunc("GET /recordings/{name}/packets", s.handlePackets)
	mux.HandleFunc("GET /recordings/{name}/report.pdf", s.handleReportPDF)
	return mux
}
