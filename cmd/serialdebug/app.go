package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/banshee-data/serialdebug/internal/admin"
	"github.com/banshee-data/serialdebug/internal/capture"
	"github.com/banshee-data/serialdebug/internal/command"
	"github.com/banshee-data/serialdebug/internal/config"
	"github.com/banshee-data/serialdebug/internal/device"
	"github.com/banshee-data/serialdebug/internal/drive"
	"github.com/banshee-data/serialdebug/internal/monitoring"
	"github.com/banshee-data/serialdebug/internal/project"
	"github.com/banshee-data/serialdebug/internal/transport/mock"
	"github.com/banshee-data/serialdebug/internal/transport/serial"
	"github.com/banshee-data/serialdebug/internal/transport/tty"
)

// tailBuffer is the per-subscriber backlog of the admin tail.
const tailBuffer = 256

// drainTicks bounds how long shutdown waits for drivers to finish.
const drainTicks = 20

// app wires the device runtime together.
type app struct {
	pool      *device.Pool
	managers  *device.Managers
	scheduler *drive.Scheduler
	projects  *project.Projects
	events    *project.Broadcaster
	store     *capture.Store
	emitter   project.Emitter
	parser    []command.Option
}

// newApp assembles the runtime from cfg. Events go to the admin tail, to out
// as JSON lines when out is non-nil, and to the capture database when one is
// configured. extra managers are registered after the built-in ones.
func newApp(cfg config.Config, out io.Writer, extra ...device.Manager) (*app, error) {
	pool := device.NewPool()
	managers := device.NewManagers(pool,
		mock.NewManager(),
		serial.NewManager(serial.WithDefaults(cfg.Serial.BaudRate, cfg.Serial.ReadTimeout)),
		tty.NewManager(),
	)
	for _, m := range extra {
		managers.Register(m)
	}

	a := &app{
		pool:      pool,
		managers:  managers,
		scheduler: drive.New(cfg.Scheduler.TickInterval),
		projects:  project.NewProjects(),
		events:    project.NewBroadcaster(tailBuffer),
	}
	if cfg.Parser.MaxFrameSize > 0 {
		a.parser = append(a.parser, command.WithMaxFrameSize(cfg.Parser.MaxFrameSize))
	}

	var emitter project.Emitter = a.events
	if out != nil {
		emitter = project.Tee(a.events, project.NewWriterEmitter(out))
	}

	if cfg.Capture.Path != "" {
		store, err := capture.Open(cfg.Capture.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open capture database: %w", err)
		}
		recorder, sess, err := store.Recorder("serialdebug", emitter)
		if err != nil {
			store.Close()
			return nil, err
		}
		monitoring.Logf("capturing events to %s (session %s)", cfg.Capture.Path, sess.ID)
		a.store = store
		emitter = recorder
	}
	a.emitter = emitter
	return a, nil
}

func (a *app) start() error {
	return a.scheduler.Start()
}

// open opens a device and attaches it to a new project.
func (a *app) open(sort string, raw json.RawMessage, workspace string) (uint64, error) {
	ref, err := project.OpenDevice(a.managers, a.scheduler, sort, raw, a.emitter, a.parser...)
	if err != nil {
		return 0, err
	}
	id := a.projects.New(workspace, ref)
	monitoring.Logf("opened %s device %d into project %d", sort, ref.ID(), id)
	return id, nil
}

func (a *app) attachRoutes(mux *http.ServeMux) error {
	admin.Attach(mux, admin.Deps{
		Managers:      a.managers,
		Scheduler:     a.scheduler,
		Projects:      a.projects,
		Broadcaster:   a.events,
		Emitter:       a.emitter,
		ParserOptions: a.parser,
	})
	if a.store != nil {
		return a.store.AttachAdminRoutes(mux)
	}
	return nil
}

// shutdown closes every project, waits for the drivers (running or still
// queued) to observe it, then stops the scheduler and releases the remaining
// resources. Drivers left at the deadline are closed by the scheduler.
func (a *app) shutdown() {
	a.projects.CloseAll()

	deadline := time.Now().Add(drainTicks * a.scheduler.Interval())
	for a.scheduler.Active() > 0 && time.Now().Before(deadline) {
		time.Sleep(a.scheduler.Interval())
	}

	if err := a.scheduler.Stop(); err != nil {
		monitoring.Logf("scheduler stop: %v", err)
	} else {
		<-a.scheduler.Done()
	}

	if n := a.pool.Len(); n > 0 {
		monitoring.Logf("%d device(s) still held at shutdown", n)
	}
	a.events.Close()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			monitoring.Logf("capture close: %v", err)
		}
	}
}
