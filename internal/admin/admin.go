// Package admin mounts the debugging surface of a running serialdebug
// process on the tsweb /debug/ mux. Routes are reachable only from localhost
// or over Tailscale.
package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"tailscale.com/tsweb"

	"github.com/banshee-data/serialdebug/internal/command"
	"github.com/banshee-data/serialdebug/internal/device"
	"github.com/banshee-data/serialdebug/internal/drive"
	"github.com/banshee-data/serialdebug/internal/fault"
	"github.com/banshee-data/serialdebug/internal/httputil"
	"github.com/banshee-data/serialdebug/internal/monitoring"
	"github.com/banshee-data/serialdebug/internal/project"
)

// Deps is everything the admin routes inspect or drive.
type Deps struct {
	Managers    *device.Managers
	Scheduler   *drive.Scheduler
	Projects    *project.Projects
	Broadcaster *project.Broadcaster
	// Emitter receives the events of devices opened through the open route.
	// It defaults to Broadcaster.
	Emitter project.Emitter
	// ParserOptions apply to drivers started through the open route.
	ParserOptions []command.Option
}

// DeviceInfo describes one live pool entry.
type DeviceInfo struct {
	ID   device.Handle `json:"id"`
	Name string        `json:"name"`
	RC   int           `json:"rc"`
}

// ManagerInfo describes one registered device manager.
type ManagerInfo struct {
	Sort      string   `json:"sort"`
	Available []string `json:"available"`
}

// OpenResult is the response of the open route.
type OpenResult struct {
	Project uint64        `json:"project"`
	Device  device.Handle `json:"device"`
}

// Attach mounts the admin routes on mux.
func Attach(mux *http.ServeMux, d Deps) {
	if d.Emitter == nil && d.Broadcaster != nil {
		d.Emitter = d.Broadcaster
	}
	debug := tsweb.Debugger(mux)
	pool := d.Managers.Pool()

	debug.KVFunc("Scheduler tasks", func() any { return d.Scheduler.Len() })
	debug.KVFunc("Scheduler ticks", func() any { return d.Scheduler.Ticks() })
	debug.KVFunc("Open devices", func() any { return pool.Len() })
	debug.KVFunc("Open projects", func() any { return d.Projects.Len() })

	debug.HandleFunc("devices", "Devices held in the pool", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, Devices(pool))
	})

	debug.HandleFunc("managers", "Device managers and discoverable instances", func(w http.ResponseWriter, r *http.Request) {
		infos := []ManagerInfo{}
		for _, sort := range d.Managers.Sorts() {
			infos = append(infos, ManagerInfo{Sort: sort, Available: d.Managers.Available(sort)})
		}
		httputil.WriteJSONOK(w, infos)
	})

	debug.HandleFunc("projects", "Open projects", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, d.Projects.List())
	})

	// Open a device and attach it to a new project. The project holds the
	// second reference, so the driver starts polling on its next tick.
	debug.HandleSilentFunc("open", func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		sort := strings.TrimSpace(r.FormValue("sort"))
		if sort == "" {
			http.Error(w, "Missing sort", http.StatusBadRequest)
			return
		}
		raw := json.RawMessage(r.FormValue("config"))
		ref, err := project.OpenDevice(d.Managers, d.Scheduler, sort, raw, d.Emitter, d.ParserOptions...)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		id := d.Projects.New(r.FormValue("workspace"), ref)
		httputil.WriteJSONOK(w, OpenResult{Project: id, Device: ref.ID()})
	})

	// Attach an existing pool entry to a project by handle.
	debug.HandleSilentFunc("push", func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		id, ok := formUint(w, r, "project")
		if !ok {
			return
		}
		handle, ok := formUint(w, r, "device")
		if !ok {
			return
		}
		ref, ok := pool.Adopt(device.Handle(handle))
		if !ok {
			httputil.WriteError(w, fault.Newf(fault.UnknownResource, "Failed to find device %d", handle))
			return
		}
		if err := d.Projects.PushDevice(id, ref); err != nil {
			if rerr := ref.Release(); rerr != nil {
				monitoring.Logf("push to project %d: release device %d: %v", id, handle, rerr)
			}
			httputil.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	debug.HandleSilentFunc("write", func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		id, ok := formUint(w, r, "project")
		if !ok {
			return
		}
		data := r.FormValue("data")
		if data == "" {
			http.Error(w, "Missing data", http.StatusBadRequest)
			return
		}
		if err := d.Projects.Write(id, []byte(data)); err != nil {
			httputil.WriteError(w, err)
			return
		}
		fmt.Fprintf(w, "Wrote %q to project %d", data, id)
	})

	debug.HandleSilentFunc("close", func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		if r.FormValue("project") == "all" {
			fmt.Fprintf(w, "Closed %d project(s)", d.Projects.CloseAll())
			return
		}
		id, ok := formUint(w, r, "project")
		if !ok {
			return
		}
		if err := d.Projects.Close(id); err != nil {
			httputil.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	// Server-Sent Events carrying every device event as JSON.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if d.Broadcaster == nil {
			http.Error(w, "Tail unavailable", http.StatusServiceUnavailable)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := d.Broadcaster.Subscribe()
		defer d.Broadcaster.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case e, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(e)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}

// Devices snapshots the live entries of pool.
func Devices(pool *device.Pool) []DeviceInfo {
	infos := []DeviceInfo{}
	for _, id := range pool.Live() {
		name, ok := pool.Name(id)
		if !ok {
			continue
		}
		infos = append(infos, DeviceInfo{ID: id, Name: name, RC: pool.Count(id)})
	}
	return infos
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func formUint(w http.ResponseWriter, r *http.Request, key string) (uint64, bool) {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		http.Error(w, "Missing "+key, http.StatusBadRequest)
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid %s %q", key, v), http.StatusBadRequest)
		return 0, false
	}
	return n, true
}
