/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package alpaca

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Coordinate parsing for the telescope attributes.  Numeric inputs pass
// through as degrees; string inputs are sexagesimal, read as hour angle
// for right ascension and as degrees for everything else.

// parseSexagesimal reads "DD:MM:SS.s" with ':' or ' ' separators and an
// optional sign.  One or two fields are fine too.
func parseSexagesimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty angle")
	}
	sign := 1.0
	switch s[0] {
	case '-':
		sign = -1.0
		s = s[1:]
	case '+':
		s = s[1:]
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == ' ' })
	if len(fields) == 0 || len(fields) > 3 {
		return 0, errors.Errorf("can not parse angle %q", s)
	}
	scale := 1.0
	total := 0.0
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "can not parse angle %q", s)
		}
		total += v * scale
		scale /= 60
	}
	return sign * total, nil
}

// angleDeg coerces a request parameter to degrees.  hourAngle selects the
// sexagesimal unit used for string input.
func angleDeg(v interface{}, hourAngle bool) (float64, error) {
	switch a := v.(type) {
	case string:
		parsed, err := parseSexagesimal(a)
		if err != nil {
			return 0, err
		}
		if hourAngle {
			parsed *= 15
		}
		return parsed, nil
	default:
		f, ok := asFloat(v)
		if !ok {
			return 0, errors.Errorf("can not read angle from %v", v)
		}
		return f, nil
	}
}

// equatorialDeg validates and normalizes an RA/Dec pair to degrees.
func equatorialDeg(ra, dec interface{}) (float64, float64, error) {
	raDeg, err := angleDeg(ra, true)
	if err != nil {
		return 0, 0, err
	}
	decDeg, err := angleDeg(dec, false)
	if err != nil {
		return 0, 0, err
	}
	return raDeg, decDeg, nil
}

// horizontalDeg validates and normalizes an Az/Alt pair to degrees.
func horizontalDeg(az, alt interface{}) (float64, float64, error) {
	azDeg, err := angleDeg(az, false)
	if err != nil {
		return 0, 0, err
	}
	altDeg, err := angleDeg(alt, false)
	if err != nil {
		return 0, 0, err
	}
	return azDeg, altDeg, nil
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
