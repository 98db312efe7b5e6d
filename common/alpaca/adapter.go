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
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"obs/base_def"
	"obs/common/obsmsg"
	"obs/common/obstree"
)

func floatDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// ObservatoryAdapter is the tree leaf translating addressed requests into
// Alpaca calls.  The address residual names a device path and an attribute:
// "dome.shutterstatus" reads the shutter state of the configured dome.
// The adapter itself has no name in the tree; the provider above it has
// already consumed the telescope segment.
type ObservatoryAdapter struct {
	obstree.Node
	observatoryName string

	conn       *Connector
	obs        *Observatory
	multiplier float64

	rmMtx sync.Mutex
	rm    *ResourceManager
}

// NewObservatoryAdapter builds an adapter for the named observatory
// configuration.  An empty observatoryName falls back to the component
// name.
func NewObservatoryAdapter(name, observatoryName string) *ObservatoryAdapter {
	if observatoryName == "" {
		observatoryName = name
	}
	return &ObservatoryAdapter{
		Node:            obstree.NewNode(name, "alpaca", nil),
		observatoryName: observatoryName,
	}
}

// Init builds the device tree from tree.<observatory>.observatory and
// validates the timeout multiplier.
func (a *ObservatoryAdapter) Init(td *obstree.TreeData) error {
	if err := a.Node.Init(td); err != nil {
		return err
	}
	options := td.Cfg.GetMap("tree", a.observatoryName, "observatory")
	if options == nil {
		return errors.Errorf("no observatory configuration for %s", a.observatoryName)
	}
	a.obs = NewObservatory(a.observatoryName, options)
	a.conn = NewConnector(a.Log())

	a.multiplier = a.Scope().Float("timeout_multiplier", base_def.ADAPTER_TIMEOUT_MULTIPLIER)
	if a.multiplier <= 0 || a.multiplier >= 1 {
		a.Log().Warnf("can not set timeout_multiplier %v, should be between 0 and 1, using %v",
			a.multiplier, base_def.ADAPTER_TIMEOUT_MULTIPLIER)
		a.multiplier = base_def.ADAPTER_TIMEOUT_MULTIPLIER
	}
	return nil
}

// Stop drops the upstream connections.
func (a *ObservatoryAdapter) Stop() {
	if a.conn != nil {
		a.conn.Close()
	}
	a.Node.Stop()
}

// GetResponse runs the provider frame with the Alpaca hook.
func (a *ObservatoryAdapter) GetResponse(ctx context.Context, req *obsmsg.ValueRequest) *obsmsg.ValueResponse {
	return a.FrameResponse(ctx, req, a, nil)
}

// GetValue resolves the address residual against the device tree and
// performs the Alpaca call, bounded by a fraction of the time left on the
// request so the answer still makes it back before the client gives up.
func (a *ObservatoryAdapter) GetValue(ctx context.Context, req *obsmsg.ValueRequest) (*obsmsg.Value, error) {
	residual := req.Residual()
	if len(residual) == 0 {
		a.Log().Debugf("%s: incoming address %s is too short", a.Name(), req.Address)
		return nil, obsmsg.AddressErr(obsmsg.CodeNoCommand, "incoming address is too short")
	}
	devPath, attribute := residual[:len(residual)-1], residual[len(residual)-1]
	dev, ok := a.obs.Find(devPath)
	if !ok {
		a.Log().Infof("%s: no device at %s", a.Name(), strings.Join(devPath, "."))
		return nil, obsmsg.AddressErr(obsmsg.CodeUnknownTarget,
			"the alpaca driver does not have such a device")
	}

	window := (req.RequestTimeout - obsmsg.Now()) * a.multiplier
	cctx := ctx
	if window > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, floatDuration(window))
		defer cancel()
	}

	result, err := invoke(cctx, a.conn, dev, attribute, req.RequestType == obsmsg.RequestPut, req.Data)
	if err != nil {
		return nil, a.mapErr(err, req)
	}
	return obsmsg.NewValue(result), nil
}

// mapErr translates transport failures into the tree error taxonomy.
func (a *ObservatoryAdapter) mapErr(err error, req *obsmsg.ValueRequest) error {
	var httpErr *HTTPError
	var driverErr *DriverError
	switch {
	case errors.As(err, &httpErr):
		a.Log().Warnf("alpaca HTTP %d for request %s", httpErr.Status, req.Address)
		return obsmsg.ValueErr(obsmsg.CodeNoValue, httpErr.Reason)
	case errors.As(err, &driverErr):
		a.Log().Warnf("alpaca driver error for request %s: %s", req.Address, driverErr.Message)
		return obsmsg.ValueErr(obsmsg.CodeNoValue, driverErr.Message)
	case errors.Is(err, ErrContentType):
		a.Log().Warnf("alpaca content type error for request %s", req.Address)
		return obsmsg.ValueErr(obsmsg.CodeNoValue, err.Error())
	case errors.Is(err, ErrBadArguments):
		a.Log().Warnf("alpaca driver got wrong arguments for request %s", req.Address)
		return obsmsg.AddressErr(obsmsg.CodeBadArguments, "wrong arguments for method")
	}
	// Everything else is the server not answering: refused connections,
	// resets, and the request window running out.
	a.Log().Warnf("server alpaca is not responding at %s", req.Address)
	return obsmsg.OtherErr(obsmsg.CodeUpstreamUnavail,
		"server alpaca is not responding at "+req.Address.String(), obsmsg.SeverityTemporary)
}

// ObservatoryName names the configuration section this adapter serves.
func (a *ObservatoryAdapter) ObservatoryName() string {
	return a.observatoryName
}

// ObservatoryConfig reports the raw device layout for the published
// configuration.
func (a *ObservatoryAdapter) ObservatoryConfig() map[string]interface{} {
	out := a.Node.Configuration()
	if out == nil {
		out = make(map[string]interface{})
	}
	out["observatory_config"] = map[string]interface{}{"observatory": a.obs.Config()}
	out["observatory_config_name"] = a.observatoryName
	return out
}

// Resources lists the adapter's first-level devices for the resource
// manager.  Devices nested deeper in the tree are not searched.
func (a *ObservatoryAdapter) Resources() []ResourceSpec {
	out := make([]ResourceSpec, 0, len(a.obs.Devices()))
	rootOpts := a.obs.RootOptions()
	for id, dev := range a.obs.Devices() {
		props := map[string]interface{}{"observatory_name": a.observatoryName}
		for k, v := range rootOpts {
			props[k] = v
		}
		for k, v := range dev.Options {
			props[k] = v
		}
		out = append(out, ResourceSpec{
			SourceName: id + "_RESOURCE",
			ID:         id,
			Kind:       dev.Kind,
			Nr:         dev.DeviceNumber(),
			Properties: props,
		})
	}
	return out
}

// ResourceManager returns the per-device coordination layer, created on
// first use.
func (a *ObservatoryAdapter) ResourceManager() *ResourceManager {
	a.rmMtx.Lock()
	defer a.rmMtx.Unlock()
	if a.rm == nil {
		a.rm = NewResourceManager(a.Log(), a.API(), a.observatoryName, a.Resources())
	}
	return a.rm
}
