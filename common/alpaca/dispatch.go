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
	"strconv"
)

// The dispatch layer sits between the tree address and the wire protocol.
// Most attributes map one-to-one onto Alpaca endpoints; the tables below
// carry the exceptions: parameter and result processors for the telescope
// coordinate attributes, and site-specific actions that tunnel through the
// driver's action/commandbool/commandstring endpoints.

type customFunc func(ctx context.Context, c *Connector, d *Device) (interface{}, error)

func action(kind, name, parameters string) customFunc {
	return func(ctx context.Context, c *Connector, d *Device) (interface{}, error) {
		k := kind
		if k == "" {
			k = urlKind(d.Kind)
		}
		return c.Put(ctx, d, k, "action", map[string]interface{}{
			"Action": name, "Parameters": parameters,
		})
	}
}

func command(endpoint, name, raw string) customFunc {
	return func(ctx context.Context, c *Connector, d *Device) (interface{}, error) {
		return c.Put(ctx, d, urlKind(d.Kind), endpoint, map[string]interface{}{
			"Command": name, "Raw": raw,
		})
	}
}

// customActions keys are "<configured kind>.<attribute>:<get|put>".
var customActions = map[string]customFunc{
	"dome.domefansrunning:get": command("commandbool", "DomeFansRunning", "False"),
	"dome.domefansturnon:put":  command("commandblind", "DomeFansTurnOn", "False"),
	"dome.domefansturnoff:put": command("commandblind", "DomeFansTurnOff", "False"),

	"telescope.reportmaxalt:get": action("", "telescope:reportmaxalt", ""),
	"telescope.errorstring:get":  action("", "telescope:errorstring", ""),
	"telescope.motorstatus:get":  command("commandstring", "MotStat", "True"),
	"telescope.motoron:put":      action("", "telescope:motoron", ""),
	"telescope.motoroff:put":     action("", "telescope:motoroff", ""),
	// The flat-field lamp hangs off the fan controller.
	"telescope.domeflatlampon:put":  action("", "telescope:startfans", "5"),
	"telescope.domeflatlampoff:put": action("", "telescope:stopfans", ""),

	"focuser.fansturnon:put":  action("", "fansturnon", ""),
	"focuser.fansturnoff:put": action("", "fansturnoff", ""),
	"focuser.fansstatus:get":  action("", "fansstatus", ""),

	"covercalibratorOCA.opencover:put":  action(KindMount, "telescope:opencover", ""),
	"covercalibratorOCA.closecover:put": action(KindMount, "telescope:closecover", ""),
}

func selectNasmythPort(ctx context.Context, c *Connector, d *Device,
	params map[string]interface{}) (interface{}, error) {

	parameters := ""
	if n, ok := asFloat(params["Position"]); ok {
		parameters = strconv.Itoa(int(n))
	}
	return c.Put(ctx, d, KindMount, "action", map[string]interface{}{
		"Action": "selectnasmythport", "Parameters": parameters,
	})
}

// invoke performs one attribute access on a device: custom actions first,
// then the plain endpoint with parameter and result processing.
func invoke(ctx context.Context, c *Connector, d *Device, attribute string,
	put bool, params map[string]interface{}) (interface{}, error) {

	dir := "get"
	if put {
		dir = "put"
	}
	if d.Kind == KindTertiaryOCA && attribute == "selectnasmythport" && put {
		return selectNasmythPort(ctx, c, d, params)
	}
	if fn, ok := customActions[d.Kind+"."+attribute+":"+dir]; ok {
		return fn(ctx, c, d)
	}

	kind := urlKind(d.Kind)
	if put {
		processed, err := prePut(kind, attribute, params)
		if err != nil {
			return nil, err
		}
		return c.Put(ctx, d, kind, attribute, processed)
	}
	processed, err := preGet(kind, attribute, params)
	if err != nil {
		return nil, err
	}
	res, err := c.Get(ctx, d, kind, attribute, processed)
	if err != nil {
		return nil, err
	}
	return postGet(kind, attribute, res)
}

// prePut rewrites WRITE parameters for the telescope coordinate endpoints.
// The wire protocol wants right ascension in hours while the tree speaks
// degrees throughout.
func prePut(kind, attribute string, params map[string]interface{}) (map[string]interface{}, error) {
	if kind != KindMount {
		return params, nil
	}
	switch attribute {
	case "targetdeclination":
		dec, err := angleDeg(need(params, "TargetDeclination"), false)
		if err != nil {
			return nil, ErrBadArguments
		}
		return map[string]interface{}{"TargetDeclination": dec}, nil
	case "targetrightascension":
		ra, err := angleDeg(need(params, "TargetRightAscension"), true)
		if err != nil {
			return nil, ErrBadArguments
		}
		return map[string]interface{}{"TargetRightAscension": ra / 360 * 24}, nil
	case "utcdate":
		s, ok := params["UTCDate"].(string)
		if !ok {
			return nil, ErrBadArguments
		}
		return map[string]interface{}{"UTCDate": s}, nil
	case "slewtocoordinates", "slewtocoordinatesasync", "synctocoordinates":
		return equatorialParams(params)
	case "slewtoaltaz", "slewtoaltazasync", "synctoaltaz":
		az, alt, err := horizontalDeg(need(params, "Azimuth"), need(params, "Altitude"))
		if err != nil {
			return nil, ErrBadArguments
		}
		return map[string]interface{}{"Azimuth": az, "Altitude": alt}, nil
	}
	return params, nil
}

// preGet rewrites READ parameters; only destinationsideofpier takes
// coordinates on the way in.
func preGet(kind, attribute string, params map[string]interface{}) (map[string]interface{}, error) {
	if kind == KindMount && attribute == "destinationsideofpier" {
		return equatorialParams(params)
	}
	return params, nil
}

// postGet rewrites READ results; the right ascension endpoints answer in
// hours and the tree hands out degrees.
func postGet(kind, attribute string, res interface{}) (interface{}, error) {
	if kind != KindMount {
		return res, nil
	}
	switch attribute {
	case "rightascension", "targetrightascension":
		h, ok := asFloat(res)
		if !ok {
			return nil, ErrBadArguments
		}
		return h / 24 * 360, nil
	}
	return res, nil
}

func equatorialParams(params map[string]interface{}) (map[string]interface{}, error) {
	ra, dec, err := equatorialDeg(need(params, "RightAscension"), need(params, "Declination"))
	if err != nil {
		return nil, ErrBadArguments
	}
	return map[string]interface{}{"RightAscension": ra / 360 * 24, "Declination": dec}, nil
}

func need(params map[string]interface{}, key string) interface{} {
	if params == nil {
		return nil
	}
	return params[key]
}
