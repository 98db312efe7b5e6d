/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package alpaca adapts an ASCOM Alpaca REST server to the component tree.
// The device layout of one observatory comes from configuration: a nested
// "components" map whose entries name the device kind, device number, and
// options like the server address, with options resolving up the parent
// chain when a device does not set them itself.
package alpaca

import (
	"strings"
)

// Standard Alpaca device kinds, plus the site-specific tertiary mirror.
const (
	KindMount           = "telescope"
	KindDome            = "dome"
	KindCamera          = "camera"
	KindFilterWheel     = "filterwheel"
	KindFocuser         = "focuser"
	KindRotator         = "rotator"
	KindSwitch          = "switch"
	KindSafetyMonitor   = "safetymonitor"
	KindCoverCalibrator = "covercalibrator"
	KindTertiary        = "tertiary"

	// Site-specific configuration keys for devices whose custom actions
	// run through the mount driver.
	KindTertiaryOCA        = "tertiaryOCA"
	KindCoverCalibratorOCA = "covercalibratorOCA"
)

// urlKind maps a configured kind to the kind segment used in request URLs.
// The OCA variants keep their standard protocol kind on the wire.
func urlKind(configKind string) string {
	switch configKind {
	case KindTertiaryOCA:
		return KindTertiary
	case KindCoverCalibratorOCA:
		return KindCoverCalibrator
	}
	return configKind
}

// Device is one node of the configured device tree.
type Device struct {
	ID       string
	Kind     string
	Options  map[string]interface{}
	Parent   *Device
	Children map[string]*Device
}

func buildDevice(id, kind string, options map[string]interface{}, parent *Device) *Device {
	d := &Device{
		ID:       id,
		Kind:     kind,
		Options:  make(map[string]interface{}),
		Parent:   parent,
		Children: make(map[string]*Device),
	}
	for k, v := range options {
		if k == "components" {
			continue
		}
		d.Options[k] = v
	}
	if components, ok := options["components"].(map[string]interface{}); ok {
		for cid, raw := range components {
			opts, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			kind, _ := opts["kind"].(string)
			d.Children[cid] = buildDevice(d.ID+"."+cid, kind, opts, d)
		}
	}
	return d
}

// DeviceNumber returns the Alpaca device number, 0 when unset.
func (d *Device) DeviceNumber() int {
	if n, ok := asFloat(d.Options["device_number"]); ok {
		return int(n)
	}
	return 0
}

// OptionRecursive looks the option up on this device, then up the parent
// chain.
func (d *Device) OptionRecursive(option string) (interface{}, bool) {
	if v, ok := d.Options[option]; ok {
		return v, true
	}
	if d.Parent != nil {
		return d.Parent.OptionRecursive(option)
	}
	return nil, false
}

// BaseURL returns the Alpaca server address configured for this device or
// inherited from an ancestor.
func (d *Device) BaseURL() string {
	v, _ := d.OptionRecursive("address")
	s, _ := v.(string)
	return s
}

// Observatory is the root of one configured device tree.
type Observatory struct {
	root   *Device
	name   string
	config map[string]interface{}
}

// NewObservatory builds the device tree for one observatory from its raw
// configuration section.
func NewObservatory(name string, options map[string]interface{}) *Observatory {
	return &Observatory{
		root:   buildDevice("obs", "observatory", options, nil),
		name:   name,
		config: options,
	}
}

// Name returns the observatory's configuration name.
func (o *Observatory) Name() string {
	return o.name
}

// Config returns the raw configuration section the tree was built from.
func (o *Observatory) Config() map[string]interface{} {
	return o.config
}

// Find walks the device tree along the given path segments.
func (o *Observatory) Find(path []string) (*Device, bool) {
	d := o.root
	for _, seg := range path {
		child, ok := d.Children[seg]
		if !ok {
			return nil, false
		}
		d = child
	}
	if d == o.root {
		return nil, false
	}
	return d, true
}

// FindID resolves a dotted device path like "dome" or "focuser.fans".
func (o *Observatory) FindID(id string) (*Device, bool) {
	if id == "" {
		return nil, false
	}
	return o.Find(strings.Split(id, "."))
}

// Devices lists the first-level devices of the observatory.
func (o *Observatory) Devices() map[string]*Device {
	return o.root.Children
}

// RootOptions returns the observatory-wide options visible to every device.
func (o *Observatory) RootOptions() map[string]interface{} {
	return o.root.Options
}
