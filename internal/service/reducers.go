package service

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"

	"github.com/joeblew999/geocluster/internal/cluster"
)

// ErrInvalidReducer is returned for reducer specs that cannot be parsed.
var ErrInvalidReducer = errors.New("invalid reducer")

type reducer struct {
	op   string // sum, min, max, count
	prop string
	out  string // cluster property name, "<op>_<prop>"
}

// ParseReducers turns specs of the form "<op>:<prop>" into the map and
// reduce functions of cluster.Options. Supported ops are sum, min, max and
// count (points carrying a non-null prop). Cluster features carry the result
// as "<op>_<prop>". No specs yields nil functions.
func ParseReducers(specs []string) (cluster.MapFunc, cluster.ReduceFunc, error) {
	if len(specs) == 0 {
		return nil, nil, nil
	}

	reducers := make([]reducer, 0, len(specs))
	for _, spec := range specs {
		op, prop, ok := strings.Cut(strings.TrimSpace(spec), ":")
		if !ok || prop == "" {
			return nil, nil, errors.Wrapf(ErrInvalidReducer, "%q: want <op>:<property>", spec)
		}
		switch op {
		case "sum", "min", "max", "count":
		default:
			return nil, nil, errors.Wrapf(ErrInvalidReducer, "%q: unknown op %q", spec, op)
		}
		reducers = append(reducers, reducer{op: op, prop: prop, out: op + "_" + prop})
	}

	mapFn := func(props geojson.Properties) geojson.Properties {
		mapped := make(geojson.Properties, len(reducers))
		for _, r := range reducers {
			v, present := props[r.prop]
			present = present && v != nil
			switch r.op {
			case "count":
				if present {
					mapped[r.out] = 1.0
				} else {
					mapped[r.out] = 0.0
				}
			case "sum":
				f, _ := toFloat(v)
				mapped[r.out] = f
			default:
				if f, ok := toFloat(v); ok {
					mapped[r.out] = f
				}
			}
		}
		return mapped
	}

	reduceFn := func(acc, props geojson.Properties) {
		for _, r := range reducers {
			v, ok := props[r.out].(float64)
			if !ok {
				continue
			}
			cur, has := acc[r.out].(float64)
			switch {
			case !has:
				acc[r.out] = v
			case r.op == "sum" || r.op == "count":
				acc[r.out] = cur + v
			case r.op == "min" && v < cur:
				acc[r.out] = v
			case r.op == "max" && v > cur:
				acc[r.out] = v
			}
		}
	}

	return mapFn, reduceFn, nil
}

// toFloat converts the numeric values produced by GeoJSON and DuckDB decoding.
func toFloat(v any) (float64, bool) {
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
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
