package capture

import (
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/serialdebug/internal/httputil"
)

// AttachAdminRoutes mounts capture diagnostics on the /debug/ mux: a tailsql
// console over the database plus JSON listings of sessions and their events.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return err
	}
	tsql.SetDB("sqlite://capture.db", s.db, &tailsql.DBOptions{
		Label: "Capture DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("sessions", "Recorded capture sessions", func(w http.ResponseWriter, r *http.Request) {
		sessions, err := s.Sessions()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		httputil.WriteJSONOK(w, sessions)
	})

	debug.HandleSilentFunc("session-events", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("session")
		if id == "" {
			http.Error(w, "Missing session", http.StatusBadRequest)
			return
		}
		records, err := s.Events(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		httputil.WriteJSONOK(w, records)
	})
	return nil
}
