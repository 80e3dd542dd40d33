package project

import (
	"sort"
	"sync"

	"github.com/banshee-data/serialdebug/internal/device"
	"github.com/banshee-data/serialdebug/internal/fault"
	"github.com/banshee-data/serialdebug/internal/monitoring"
)

// Project is an open workspace session. It may hold one device reference,
// which keeps that device's driver polling.
type Project struct {
	ID        uint64
	Workspace string

	device *device.Ref
}

// Info is a snapshot of a project for diagnostics.
type Info struct {
	ID        uint64         `json:"id"`
	Workspace string         `json:"workspace"`
	Device    *device.Handle `json:"device,omitempty"`
	RC        int            `json:"rc"`
}

// Projects is the registry of open projects.
type Projects struct {
	mu   sync.Mutex
	next uint64
	byID map[uint64]*Project
}

// NewProjects returns an empty registry.
func NewProjects() *Projects {
	return &Projects{byID: make(map[uint64]*Project)}
}

// New opens a project for workspace. The project takes ownership of ref,
// which may be nil.
func (p *Projects) New(workspace string, ref *device.Ref) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.next
	p.next++
	p.byID[id] = &Project{ID: id, Workspace: workspace, device: ref}
	return id
}

// PushDevice attaches ref to the project, releasing any device it held.
func (p *Projects) PushDevice(id uint64, ref *device.Ref) error {
	p.mu.Lock()
	proj, ok := p.byID[id]
	if !ok {
		p.mu.Unlock()
		return fault.Newf(fault.UnknownResource, "Failed to find project %d", id)
	}
	previous := proj.device
	proj.device = ref
	p.mu.Unlock()

	if previous != nil && previous != ref {
		return previous.Release()
	}
	return nil
}

// Write sends buf to the project's device. A project without a device, or
// whose device has gone, accepts and drops the write.
func (p *Projects) Write(id uint64, buf []byte) error {
	p.mu.Lock()
	proj, ok := p.byID[id]
	var ref *device.Ref
	if ok {
		ref = proj.device
	}
	p.mu.Unlock()

	if !ok {
		return fault.Newf(fault.UnknownResource, "Cannot find project %d", id)
	}
	if ref == nil {
		return nil
	}
	_, err := ref.Use(func(d *device.Device) error {
		_, err := d.Write(buf)
		return err
	})
	return err
}

// Close removes the project and releases its device reference.
func (p *Projects) Close(id uint64) error {
	p.mu.Lock()
	proj, ok := p.byID[id]
	delete(p.byID, id)
	p.mu.Unlock()

	if !ok {
		return fault.Newf(fault.UnknownResource, "Cannot find project %d", id)
	}
	if proj.device != nil {
		return proj.device.Release()
	}
	return nil
}

// CloseAll closes every project and returns how many were open.
func (p *Projects) CloseAll() int {
	p.mu.Lock()
	all := p.byID
	p.byID = make(map[uint64]*Project)
	p.mu.Unlock()

	monitoring.Logf("Closing all projects (%d)", len(all))
	for _, proj := range all {
		if proj.device == nil {
			continue
		}
		monitoring.Logf("Closing project(%d), rc at %d", proj.ID, proj.device.RC())
		if err := proj.device.Release(); err != nil {
			monitoring.Logf("project %d: %v", proj.ID, err)
		}
	}
	return len(all)
}

// Len returns the number of open projects.
func (p *Projects) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}

// List returns a snapshot of the open projects ordered by ID.
func (p *Projects) List() []Info {
	p.mu.Lock()
	projects := make([]*Project, 0, len(p.byID))
	for _, proj := range p.byID {
		projects = append(projects, proj)
	}
	p.mu.Unlock()

	sort.Slice(projects, func(i, j int) bool { return projects[i].ID < projects[j].ID })
	infos := make([]Info, 0, len(projects))
	for _, proj := range projects {
		info := Info{ID: proj.ID, Workspace: proj.Workspace}
		if proj.device != nil {
			h := proj.device.ID()
			info.Device = &h
			info.RC = proj.device.RC()
		}
		infos = append(infos, info)
	}
	return infos
}
