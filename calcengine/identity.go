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

import (
	"fmt"
	"hash/fnv"
	"reflect"
	"strings"
)

// ShortID is the hex fingerprint used as a cache key. Stable only within
// one process, matching the source's use of Python's salted hash().
type ShortID string

// KwPair is one keyword-argument slot of a node identity, sorted by Key.
// The source's functools._make_key instead preserves CPython's dict
// insertion order, but this port's KW argument is a Go map — which has no
// iteration order — so both the static scanner (parsing a KW{...} literal,
// scanner.go's evalKWLiteral) and a live call (engine.go's
// splitPositionalAndKW, iterating the real map) sort by key instead: it is
// the only ordering the two sides can agree on without a call-site record
// of the order keys were written in.
type KwPair struct {
	Key   string
	Value string
}

// LongID is the structured, human-readable form of a node identity,
// retained only for diagnostics (id_map) per the data model in SPEC_FULL.md.
type LongID struct {
	FQN   string
	Args  []string
	Kw    []KwPair
	Typed bool
}

// kwdMark is the sentinel separating the positional segment from the
// keyword segment of a long id, the Go analogue of the source's
// kwd_mark=("___KWDS___",) tuple element.
const kwdMark = "\x1e___KWDS___\x1e"

func (id LongID) canonicalString() string {
	var b strings.Builder
	b.WriteString(id.FQN)
	for _, a := range id.Args {
		b.WriteByte('\x1f')
		b.WriteString(a)
	}
	b.WriteString(kwdMark)
	for _, kv := range id.Kw {
		b.WriteByte('\x1f')
		b.WriteString(kv.Key)
		b.WriteByte('=')
		b.WriteString(kv.Value)
	}
	return b.String()
}

// shortID derives the hex fingerprint of a long id via FNV-1a. Any
// deterministic, collision-resistant hash suffices per spec.md §9 — FNV-1a
// is chosen for speed, since this runs on every single wrapper call.
func shortID(id LongID) ShortID {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id.canonicalString()))
	return ShortID(fmt.Sprintf("%016x", h.Sum64()))
}

// identity holds the per-registration fingerprinting configuration: the
// resolved FQN (honoring alias/path overrides, see fqn.go) and whether
// argument types participate in the key (typed-keying, spec.md §4.A).
type identity struct {
	fqn   string
	typed bool
}

// makeNodeID computes the (short, long) identity pair for one call. pos and
// kw are the already-receiver-substituted argument lists — substitution of
// args[0] for a method call is the caller's (engine.go's) responsibility,
// since only the caller knows whether this call binds a receiver.
func (id *identity) makeNodeID(pos []any, kw []KwPair) (ShortID, LongID, error) {
	argReprs := make([]string, len(pos))
	for i, v := range pos {
		repr, err := canonicalizeArg(id.fqn, i, v, id.typed)
		if err != nil {
			return "", LongID{}, err
		}
		argReprs[i] = repr
	}
	kwReprs := make([]KwPair, len(kw))
	for i, p := range kw {
		repr, err := canonicalizeArg(id.fqn, len(pos)+i, p.Value, id.typed)
		if err != nil {
			return "", LongID{}, err
		}
		kwReprs[i] = KwPair{Key: p.Key, Value: repr}
	}
	long := LongID{FQN: id.fqn, Args: argReprs, Kw: kwReprs, Typed: id.typed}
	return shortID(long), long, nil
}

// canonicalizeArg renders one argument to a stable string representation,
// rejecting slice, map, func and chan arguments (the first three are not
// comparable; a chan's rendering would carry only its address). The source's equivalent
// failure mode is a TypeError from an unhashable Python object; here it is
// UnhashableArgError, spec.md §4.A / §7's UnhashableArg kind.
func canonicalizeArg(fqn string, index int, v any, typed bool) (string, error) {
	if v == nil {
		return "<nil>", nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return "", &UnhashableArgError{FQN: fqn, Index: index, Value: v}
	}
	repr := fmt.Sprintf("%#v", v)
	if typed {
		repr = rv.Type().String() + ":" + repr
	}
	return repr, nil
}

// receiverToken produces a stable identity token for a method's receiver,
// the Go replacement for the source's hex(id(args[0])). Pointer, map,
// chan, and func receivers have a genuine runtime address; for value
// receivers (which Go copies on every call) no such address exists, so a
// content-derived token is used instead — two equal-valued receivers of a
// value-receiver method are, correctly, treated as the same node, unlike
// CPython's reference-identity id().
func receiverToken(recv any) string {
	rv := reflect.ValueOf(recv)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Sprintf("0x%x", rv.Pointer())
	default:
		return fmt.Sprintf("%s#%#v", rv.Type().String(), recv)
	}
}
