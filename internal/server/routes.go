// Package server wires HTTP handlers into a router for the counter service.
package server

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// Routes returns the router with all application routes.
func (s *Server) Routes() http.Handler {
	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/", s.handleRoot)
	router.HandlerFunc(http.MethodGet, "/ws", s.handleWebSocket)
	router.HandlerFunc(http.MethodGet, "/health", HealthHandler)
	router.HandlerFunc(http.MethodGet, "/stats", s.handleStats)
	router.HandlerFunc(http.MethodGet, "/state", s.handleState)
	router.HandlerFunc(http.MethodGet, "/counter", s.handleCounterPage)
	return router
}
