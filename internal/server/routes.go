// Package server wires HTTP handlers into a gorilla/mux router.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleHealth)
	r.HandleFunc("/health", s.handleHealth)
	r.HandleFunc(wsPath, s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc(wsPath+"/info", s.handleInfo).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/test", s.handleTestPage).Methods(http.MethodGet)

	internal := r.PathPrefix("/internal").Subrouter()
	internal.Use(s.requireInternalKey)
	internal.HandleFunc("/journals/{journalId}/messages", s.handlePublishMessage).Methods(http.MethodPost)
	internal.HandleFunc("/users/{userId}/notifications", s.handleNotify).Methods(http.MethodPost)
	return r
}
