// Package api assembles the HTTP surface: versioned room, receipt and
// admin routes on a gorilla/mux router.
package api

import (
	"net/http"

	"roomgraph/pkg/api/handlers"

	"github.com/gorilla/mux"
)

// Handler builds the API router. Configure the handlers package first.
func Handler() http.Handler {
	r := mux.NewRouter()

	v1 := r.PathPrefix("/v1").Subrouter()
	handlers.RegisterRooms(v1)
	handlers.RegisterReceipts(v1)

	admin := v1.PathPrefix("/admin").Subrouter()
	handlers.RegisterAdmin(admin)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	})
	return r
}
