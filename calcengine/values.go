// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package calcengine

import "reflect"

// resultToValue folds a reflect.MakeFunc call's return values into the
// single opaque payload NodeRecord.Value stores. Single-return functions
// (the common case, matching every scenario in spec.md §8) store the bare
// value; multi-return functions store a []any tuple.
func resultToValue(fnType reflect.Type, results []reflect.Value) any {
	if fnType.NumOut() == 1 {
		return results[0].Interface()
	}
	vals := make([]any, len(results))
	for i, r := range results {
		vals[i] = r.Interface()
	}
	return vals
}

// valuesFromResult is resultToValue's inverse, used to satisfy a
// reflect.MakeFunc call out of a cached value on a cache hit.
func valuesFromResult(fnType reflect.Type, value any) []reflect.Value {
	if fnType.NumOut() == 1 {
		return []reflect.Value{toReflectValue(value, fnType.Out(0))}
	}
	vals, _ := value.([]any)
	out := make([]reflect.Value, fnType.NumOut())
	for i := 0; i < fnType.NumOut(); i++ {
		var v any
		if i < len(vals) {
			v = vals[i]
		}
		out[i] = toReflectValue(v, fnType.Out(i))
	}
	return out
}

func toReflectValue(v any, t reflect.Type) reflect.Value {
	if v == nil {
		return reflect.Zero(t)
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv
	}
	if rv.Type().ConvertibleTo(t) {
		return rv.Convert(t)
	}
	return reflect.Zero(t)
}
