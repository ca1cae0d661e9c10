package routing

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/zalando/routekeeper/routedir"
)

// The management operations change the routes synchronously, and persist
// the changes in the route directory. The directory monitor is updated by
// them, so the next scan does not report the changes again.

func checkID(id string) error {
	if !routedir.ValidID(id) {
		return fmt.Errorf("%w: %q", routedir.ErrInvalidID, id)
	}

	return nil
}

// Deploy creates a route with the id, stores its configuration and
// activates it. It fails with ErrRouteConflict when a route with the id
// exists already, or when the name of the route is used by another
// active route.
func (r *Router) Deploy(id, name string, config []byte) (Info, error) {
	if err := checkID(id); err != nil {
		return Info{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return Info{}, ErrRouterStopped
	}

	file := r.monitor.FileOf(id)
	if _, ok := r.byFile[file]; ok {
		return Info{}, fmt.Errorf("%w: route %s exists", ErrRouteConflict, id)
	}

	candidate, err := r.build(id, name, config)
	if err != nil {
		return Info{}, err
	}

	if c := r.conflicting(candidate.name, nil); c != nil {
		candidate.Destroy()
		r.metrics.IncRejected("name_conflict")
		return Info{}, fmt.Errorf("%w: the name %q is used by route %s", ErrRouteConflict, candidate.name, c.id)
	}

	if err := r.monitor.Store(id, config); err != nil {
		candidate.Destroy()
		return Info{}, err
	}

	if err := r.commitAdd(file, candidate); err != nil {
		if derr := r.monitor.Delete(id); derr != nil {
			r.log.Errorf("failed to roll back the file of route %s: %v", id, derr)
		}

		return Info{}, err
	}

	r.updateGauge()
	r.log.Infof("route %s deployed", candidate)
	return Info{Id: id, Name: candidate.name, File: file, Config: candidate.Config()}, nil
}

// Update replaces the route of the id, and stores the new
// configuration. The current route stays active when the update fails.
func (r *Router) Update(id, name string, config []byte) (Info, error) {
	if err := checkID(id); err != nil {
		return Info{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return Info{}, ErrRouterStopped
	}

	file := r.monitor.FileOf(id)
	old, ok := r.byFile[file]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrRouteNotFound, id)
	}

	candidate, err := r.build(id, name, config)
	if err != nil {
		return Info{}, err
	}

	if c := r.conflicting(candidate.name, old); c != nil {
		candidate.Destroy()
		r.metrics.IncRejected("name_conflict")
		return Info{}, fmt.Errorf("%w: the name %q is used by route %s", ErrRouteConflict, candidate.name, c.id)
	}

	if err := r.monitor.Store(id, config); err != nil {
		candidate.Destroy()
		return Info{}, err
	}

	if err := r.commitReplace(file, old, candidate); err != nil {
		if serr := r.monitor.Store(id, old.config); serr != nil {
			r.log.Errorf("failed to roll back the file of route %s: %v", id, serr)
		}

		return Info{}, err
	}

	r.log.Infof("route %s updated", candidate)
	return Info{Id: id, Name: candidate.name, File: file, Config: candidate.Config()}, nil
}

// Undeploy deletes the route of the id, and its file. It returns the
// configuration of the deleted route.
func (r *Router) Undeploy(id string) (Info, error) {
	if err := checkID(id); err != nil {
		return Info{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return Info{}, ErrRouterStopped
	}

	file := r.monitor.FileOf(id)
	rt, ok := r.byFile[file]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrRouteNotFound, id)
	}

	// a file deleted by others, but not scanned yet, does not prevent
	// the removal
	if err := r.monitor.Delete(id); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Info{}, err
	}

	info := Info{Id: id, Name: rt.name, File: file, Config: rt.Config()}
	r.removeFile(file)
	r.updateGauge()
	return info, nil
}

// Route returns the active route of the id.
func (r *Router) Route(id string) (Info, error) {
	if err := checkID(id); err != nil {
		return Info{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file := r.monitor.FileOf(id)
	rt, ok := r.byFile[file]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrRouteNotFound, id)
	}

	return Info{Id: id, Name: rt.name, File: file, Config: rt.Config()}, nil
}

// RouteConfig returns the configuration of the active route of the id.
func (r *Router) RouteConfig(id string) ([]byte, error) {
	info, err := r.Route(id)
	return info.Config, err
}
