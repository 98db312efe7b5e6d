/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package alpaca

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"obs/common/obstree"
)

// ResourceSpec describes one first-level device as the adapter exposes it:
// the tree source name, the device id and kind, the Alpaca device number,
// and the merged option map.
type ResourceSpec struct {
	SourceName string
	ID         string
	Kind       string
	Nr         int
	Properties map[string]interface{}
}

// Resource is a handle to one device for cooperating in-process services.
// It carries the device's full tree address and a lock serializing access
// to hardware that cannot take overlapping commands.
type Resource struct {
	spec ResourceSpec
	adr  string
	sem  *semaphore.Weighted

	filterMtx sync.Mutex
	filters   map[string]int
	loaded    bool
}

func newResource(spec ResourceSpec, observatoryName string) *Resource {
	adr := spec.ID
	if observatoryName != "" {
		adr = observatoryName + "." + spec.ID
	}
	return &Resource{
		spec: spec,
		adr:  adr,
		sem:  semaphore.NewWeighted(1),
	}
}

// SourceName returns the tree address name of the resource.
func (r *Resource) SourceName() string {
	return r.spec.SourceName
}

// ID returns the unique device id within the observatory.
func (r *Resource) ID() string {
	return r.spec.ID
}

// Kind returns the configured device kind.
func (r *Resource) Kind() string {
	return r.spec.Kind
}

// Nr returns the Alpaca device number.
func (r *Resource) Nr() int {
	return r.spec.Nr
}

// Adr returns the full tree address of the device.
func (r *Resource) Adr() string {
	return r.adr
}

// Properties returns the merged device options.
func (r *Resource) Properties() map[string]interface{} {
	return r.spec.Properties
}

// TelescopeID returns the observatory the resource belongs to.
func (r *Resource) TelescopeID() string {
	if s, ok := r.spec.Properties["observatory_name"].(string); ok {
		return s
	}
	return "ID_UNDEFINED"
}

// Acquire takes the device lock, waiting until it is free or the context
// ends.
func (r *Resource) Acquire(ctx context.Context) error {
	return r.sem.Acquire(ctx, 1)
}

// Release returns the device lock.
func (r *Resource) Release() {
	r.sem.Release(1)
}

// ResourceManager hands out device handles for one observatory.  It knows
// every first-level device of the adapter and lazily completes the handles
// that need to talk to the driver, like the filter wheel name table.
type ResourceManager struct {
	slog            *zap.SugaredLogger
	api             *obstree.InternalClient
	observatoryName string
	resources       []*Resource
}

// NewResourceManager builds a manager over the given device specs.  The
// internal client is used for late initialization queries against the tree.
func NewResourceManager(slog *zap.SugaredLogger, api *obstree.InternalClient,
	observatoryName string, specs []ResourceSpec) *ResourceManager {

	m := &ResourceManager{
		slog:            slog,
		api:             api,
		observatoryName: observatoryName,
		resources:       make([]*Resource, 0, len(specs)),
	}
	for _, spec := range specs {
		m.resources = append(m.resources, newResource(spec, observatoryName))
	}
	return m
}

// ObservatoryName returns the observatory this manager serves.
func (m *ResourceManager) ObservatoryName() string {
	return m.observatoryName
}

// All returns every managed resource.
func (m *ResourceManager) All() []*Resource {
	return m.resources
}

// Get finds a resource by kind and device number.  Kinds may repeat when a
// telescope carries two devices of the same type.
func (m *ResourceManager) Get(kind string, nr int) *Resource {
	for _, r := range m.resources {
		if r.Kind() == kind && r.Nr() == nr {
			return r
		}
	}
	return nil
}

// GetByID finds a resource by its unique device id.
func (m *ResourceManager) GetByID(id string) *Resource {
	for _, r := range m.resources {
		if r.ID() == id {
			return r
		}
	}
	return nil
}

// Filters returns the filter wheel's name to slot table.  The table comes
// from the device options when configured there, otherwise from the wheel
// itself through the tree.  A failed driver read is retried on the next
// call.
func (m *ResourceManager) Filters(ctx context.Context, r *Resource) (map[string]int, error) {
	r.filterMtx.Lock()
	defer r.filterMtx.Unlock()
	if r.loaded {
		return r.filters, nil
	}

	if f := filtersFromProperties(r.spec.Properties["filters"]); f != nil {
		m.slog.Infof("filters for %s loaded from configuration: %v", r.ID(), f)
		r.filters = f
		r.loaded = true
		return r.filters, nil
	}

	resp := m.api.Get(ctx, r.Adr()+".names")
	if resp == nil || !resp.Status || resp.Value == nil {
		m.slog.Warnf("can not get list of filters for %s", r.ID())
		return nil, ErrUnknownDevice
	}
	names, ok := resp.Value.V.([]interface{})
	if !ok {
		m.slog.Warnf("filter wheel %s answered with an unexpected name list", r.ID())
		return nil, ErrContentType
	}
	f := make(map[string]int, len(names))
	for pos, raw := range names {
		name, ok := raw.(string)
		if !ok {
			continue
		}
		f[name] = pos
	}
	r.filters = f
	r.loaded = true
	return r.filters, nil
}

// filtersFromProperties reads the configured filter table.  The current
// convention is a list of {name, position} entries; a plain name to slot
// map is still accepted.
func filtersFromProperties(raw interface{}) map[string]int {
	switch v := raw.(type) {
	case map[string]interface{}:
		out := make(map[string]int, len(v))
		for name, pos := range v {
			if n, ok := asFloat(pos); ok {
				out[name] = int(n)
			}
		}
		if len(out) > 0 {
			return out
		}
	case []interface{}:
		out := make(map[string]int, len(v))
		for _, raw := range v {
			entry, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			name, ok := entry["name"].(string)
			if !ok {
				continue
			}
			if n, ok := asFloat(entry["position"]); ok {
				out[name] = int(n)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}
