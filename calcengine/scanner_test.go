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
	"reflect"
	"testing"
)

// s4Target, s4CallerPositionalAndKW, and s4CallerRuntimeArg ground
// scenario S4: a call site mixing a positional literal with a trailing
// KW literal must be split correctly by evalArgs, and a call whose
// argument is computed at runtime must be reported incomplete rather
// than guessed at.
func s4Target(x int, kw ...KW) int { return x }

func s4CallerPositionalAndKW() int {
	return s4Target(5, KW{"y": -3})
}

func s4CallerRuntimeArg(n int) int {
	return s4Target(n)
}

func findCallSite(sites []rawCallSite, name string) *rawCallSite {
	for i := range sites {
		if sites[i].Name == name {
			return &sites[i]
		}
	}
	return nil
}

func TestS4_ScannerLiteralCallDiscovery(t *testing.T) {
	scanner := newScanner(nil)

	pc := reflect.ValueOf(s4CallerPositionalAndKW).Pointer()
	body, fset := scanner.locateFuncBody(pc)
	if body == nil || fset == nil {
		t.Fatal("expected scanner to locate s4CallerPositionalAndKW's body")
	}

	site := findCallSite(scanner.CallSites(body), "s4Target")
	if site == nil {
		t.Fatal("expected a call site for s4Target")
	}
	if site.IsSelector {
		t.Fatal("s4Target(...) is a bare identifier call, not a selector call")
	}

	pos, kw, complete := evalArgs(site.Args)
	if !complete {
		t.Fatal("expected an all-literal call site to be reported complete")
	}
	if len(pos) != 1 || pos[0] != int64(5) {
		t.Fatalf("expected positional args [5], got %v", pos)
	}
	if len(kw) != 1 || kw[0].Key != "y" || kw[0].Value != "-3" {
		t.Fatalf("expected kw [y=-3], got %v", kw)
	}
}

func TestS4_ScannerSkipsRuntimeComputedArgs(t *testing.T) {
	scanner := newScanner(nil)

	pc := reflect.ValueOf(s4CallerRuntimeArg).Pointer()
	body, _ := scanner.locateFuncBody(pc)
	if body == nil {
		t.Fatal("expected scanner to locate s4CallerRuntimeArg's body")
	}

	site := findCallSite(scanner.CallSites(body), "s4Target")
	if site == nil {
		t.Fatal("expected a call site for s4Target")
	}
	if _, _, complete := evalArgs(site.Args); complete {
		t.Fatal("a runtime-computed argument must not be reported as a complete literal call site")
	}
}

func TestIdentityStability(t *testing.T) {
	id := &identity{fqn: "pkg.Fn"}
	sid1, long1, err := id.makeNodeID([]any{int64(1), "x"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sid2, long2, err := id.makeNodeID([]any{int64(1), "x"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid1 != sid2 {
		t.Fatalf("same args must produce the same short id, got %s and %s", sid1, sid2)
	}
	if !reflect.DeepEqual(long1, long2) {
		t.Fatalf("same args must produce the same long id, got %+v and %+v", long1, long2)
	}
}

func TestObserverFiresInSubscriptionOrder(t *testing.T) {
	ch := newEventChannel("test.channel", nil)
	var order []int
	ch.Subscribe(func(value any, extra ...any) { order = append(order, 1) })
	ch.Subscribe(func(value any, extra ...any) { order = append(order, 2) })
	ch.Subscribe(func(value any, extra ...any) { order = append(order, 3) })

	ch.fire(nil)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected subscribers to fire in subscription order [1 2 3], got %v", order)
	}
}

func TestObserverPanicDoesNotStopRemainingSubscribers(t *testing.T) {
	ch := newEventChannel("test.channel", nil)
	var secondRan bool
	ch.Subscribe(func(value any, extra ...any) { panic("boom") })
	ch.Subscribe(func(value any, extra ...any) { secondRan = true })

	ch.fire(nil)

	if !secondRan {
		t.Fatal("a panicking subscriber must not prevent later subscribers from running")
	}
}
