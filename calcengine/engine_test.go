// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package calcengine_test

import (
	"sync/atomic"
	"testing"

	"github.com/bsdz/calcengine/calcengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// calcGraph wires up spec scenario S1's six-node graph:
//
//	a() -> 100
//	b() -> a()
//	c(x,y) -> 2*a() + x*y
//	d(x,y=0) -> 3*b() + x - y
//	e() -> d(5,y=-3) + c(2,3) - 5
//	f() -> d(0) + e()
//
// The scanner only resolves non-selector call sites (bare identifiers)
// against an engine's by-name registry for non-method wrappers (a
// selector call inside a non-method wrapper's body is deliberately left
// untracked — see discoverDependencies), so the node functions below are
// called through package-level identifiers (gA, gB, ...) rather than
// struct fields: the AST the scanner parses must show a plain call
// expression for the by-name lookup to fire.
type calcGraph struct {
	calls map[string]int

	A *calcengine.Wrapper
	B *calcengine.Wrapper
	C *calcengine.Wrapper
	D *calcengine.Wrapper
	E *calcengine.Wrapper
	F *calcengine.Wrapper
}

var (
	gA func() int
	gB func() int
	gC func(int, int) int
	gD func(int, ...calcengine.KW) int
	gE func() int
	gF func() int
)

func newCalcGraph(e *calcengine.CalcEngine) *calcGraph {
	g := &calcGraph{calls: make(map[string]int)}
	calls := g.calls

	g.A = calcengine.Register(e, func() int {
		calls["a"]++
		return 100
	}, calcengine.Alias("gA"))
	gA = g.A.Func().(func() int)

	g.B = calcengine.Register(e, func() int {
		calls["b"]++
		return gA()
	}, calcengine.Alias("gB"))
	gB = g.B.Func().(func() int)

	g.C = calcengine.Register(e, func(x, y int) int {
		calls["c"]++
		return 2*gA() + x*y
	}, calcengine.Alias("gC"))
	gC = g.C.Func().(func(int, int) int)

	// d(x, y=0): modeled as d(x int, kw ...calcengine.KW) so the keyword
	// form the scanner recognizes (d(5, calcengine.KW{"y": -3})) is
	// available at call sites, while d(0) (no kw) defaults y to 0.
	g.D = calcengine.Register(e, func(x int, kw ...calcengine.KW) int {
		calls["d"]++
		y := 0
		if len(kw) > 0 {
			if v, ok := kw[0]["y"]; ok {
				y = v.(int)
			}
		}
		return 3*gB() + x - y
	}, calcengine.Alias("gD"))
	gD = g.D.Func().(func(int, ...calcengine.KW) int)

	g.E = calcengine.Register(e, func() int {
		calls["e"]++
		return gD(5, calcengine.KW{"y": -3}) + gC(2, 3) - 5
	}, calcengine.Alias("gE"))
	gE = g.E.Func().(func() int)

	g.F = calcengine.Register(e, func() int {
		calls["f"]++
		return gD(0) + gE()
	}, calcengine.Alias("gF"))
	gF = g.F.Func().(func() int)

	return g
}

func (g *calcGraph) a() int         { return gA() }
func (g *calcGraph) b() int         { return gB() }
func (g *calcGraph) c(x, y int) int { return gC(x, y) }
func (g *calcGraph) e() int         { return gE() }
func (g *calcGraph) f() int         { return gF() }

func (g *calcGraph) d(x int, y ...int) int {
	if len(y) > 0 {
		return gD(x, calcengine.KW{"y": y[0]})
	}
	return gD(x)
}

func TestS1_CascadedCacheHit(t *testing.T) {
	eng := calcengine.New()
	g := newCalcGraph(eng)

	result := g.f()
	assert.Equal(t, 809, result)
	assert.Equal(t, 1, g.calls["f"])
	assert.Equal(t, 2, g.calls["d"]) // d(0) and d(5, y=-3)
	assert.Equal(t, 1, g.calls["b"])
	assert.Equal(t, 1, g.calls["a"])
	assert.Equal(t, 1, g.calls["e"])
	assert.Equal(t, 1, g.calls["c"])

	// Second call: fully memoized, no user code re-invoked.
	again := g.f()
	assert.Equal(t, 809, again)
	assert.Equal(t, 1, g.calls["f"])
	assert.Equal(t, 2, g.calls["d"])

	// Invalidate c(2,3): only f, e, c(2,3) recompute.
	require.NoError(t, g.C.Invalidate(2, 3))
	third := g.f()
	assert.Equal(t, 809, third)
	assert.Equal(t, 2, g.calls["f"])
	assert.Equal(t, 2, g.calls["e"])
	assert.Equal(t, 2, g.calls["c"])
	assert.Equal(t, 2, g.calls["d"], "d must not recompute after invalidating only c")
	assert.Equal(t, 1, g.calls["a"], "a must not recompute after invalidating only c")
}

func TestS2_SetValueAndInvalidate(t *testing.T) {
	eng := calcengine.New()
	g := newCalcGraph(eng)

	require.Equal(t, 809, g.f())

	require.NoError(t, g.C.SetValueAndInvalidate(5, 2, 3))

	result := g.f()
	assert.Equal(t, 608, result)
}

// fooRecorder instruments method-isolation scenario S3: three methods a, b,
// c per instance, registered via RegisterMethod with an explicit receiver.
type fooRecorder struct {
	calls map[string]int

	aW *calcengine.Wrapper
	bW *calcengine.Wrapper
	cW *calcengine.Wrapper
}

func newFooRecorder(e *calcengine.CalcEngine) *fooRecorder {
	fr := &fooRecorder{calls: make(map[string]int)}

	fr.aW = calcengine.RegisterMethod(e, fr, func() int {
		fr.calls["a"]++
		return 10
	}, calcengine.Alias("a"))

	fr.bW = calcengine.RegisterMethod(e, fr, func(x int) int {
		fr.calls["b"]++
		return fr.a() + x
	}, calcengine.Alias("b"))

	fr.cW = calcengine.RegisterMethod(e, fr, func() int {
		fr.calls["c"]++
		return fr.a() + fr.b(5)
	}, calcengine.Alias("c"))

	return fr
}

func (fr *fooRecorder) a() int      { return fr.aW.Func().(func() int)() }
func (fr *fooRecorder) b(x int) int { return fr.bW.Func().(func(int) int)(x) }
func (fr *fooRecorder) c() int      { return fr.cW.Func().(func() int)() }

func TestS3_MethodIsolation(t *testing.T) {
	eng := calcengine.New()
	foo1 := newFooRecorder(eng)
	foo2 := newFooRecorder(eng)

	assert.Equal(t, 25, foo1.c())
	assert.Equal(t, 25, foo2.c())

	require.NoError(t, foo1.bW.Invalidate(5))

	foo1.calls["a"], foo1.calls["b"], foo1.calls["c"] = 0, 0, 0
	foo2.calls["a"], foo2.calls["b"], foo2.calls["c"] = 0, 0, 0

	result := foo1.c()
	assert.Equal(t, 25, result)
	assert.Equal(t, 1, foo1.calls["c"])
	assert.Equal(t, 1, foo1.calls["b"])
	assert.Equal(t, 0, foo1.calls["a"], "foo1.a must remain cached")
	assert.Equal(t, 0, foo2.calls["a"]+foo2.calls["b"]+foo2.calls["c"], "foo2 must be untouched by foo1's invalidation")
}

func TestS5_TypedKeying(t *testing.T) {
	eng := calcengine.New()

	untypedCalls := 0
	untyped := calcengine.Register(eng, func(x any) int {
		untypedCalls++
		return 1
	})
	untypedFn := untyped.Func().(func(any) int)
	untypedFn(1)
	untypedFn(1.0)
	assert.Equal(t, 1, untypedCalls, "untyped keying may collapse int(1) and float64(1.0) into one node")

	typedCalls := 0
	typed := calcengine.Register(eng, func(x any) int {
		typedCalls++
		return 1
	}, calcengine.Typed())
	typedFn := typed.Func().(func(any) int)
	typedFn(1)
	typedFn(1.0)
	assert.Equal(t, 2, typedCalls, "typed keying must distinguish int(1) from float64(1.0)")
}

func TestS6_EventFiring(t *testing.T) {
	eng := calcengine.New()
	var calculated int32
	w := calcengine.Register(eng, func(x int) int { return x * 2 })
	w.OnCalculated.Subscribe(func(value any, extra ...any) {
		atomic.AddInt32(&calculated, 1)
	})

	fn := w.Func().(func(int) int)
	fn(1)
	fn(2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calculated))

	var valueSet int32
	w.OnValueSet.Subscribe(func(value any, extra ...any) {
		atomic.AddInt32(&valueSet, 1)
	})
	require.NoError(t, w.SetValue(99, 1))
	assert.Equal(t, int32(1), atomic.LoadInt32(&valueSet))
}

func TestInvariant_Memoization(t *testing.T) {
	eng := calcengine.New()
	calls := 0
	w := calcengine.Register(eng, func(x int) int {
		calls++
		return x + 1
	})
	fn := w.Func().(func(int) int)

	first := fn(10)
	second := fn(10)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestInvariant_InvalidationCascade(t *testing.T) {
	eng := calcengine.New()
	g := newCalcGraph(eng)

	require.Equal(t, 809, g.f())
	base := map[string]int{"f": g.calls["f"], "e": g.calls["e"], "b": g.calls["b"], "a": g.calls["a"]}

	// Invalidating a() must cascade through every dependent: b, c, d, e, f
	// all recompute on the next call, since all of them transitively
	// require a().
	require.NoError(t, g.A.Invalidate())
	result := g.f()
	assert.Equal(t, 809, result)
	assert.Greater(t, g.calls["f"], base["f"])
	assert.Greater(t, g.calls["e"], base["e"])
	assert.Greater(t, g.calls["b"], base["b"])
	assert.Greater(t, g.calls["a"], base["a"])
}

func TestInvariant_ClearWipes(t *testing.T) {
	eng := calcengine.New()
	calls := 0
	w := calcengine.Register(eng, func() int {
		calls++
		return 42
	})
	fn := w.Func().(func() int)

	fn()
	eng.Clear()
	assert.Equal(t, 0, eng.Cache().Len())
	assert.Empty(t, eng.Cache().IDMap())

	fn()
	assert.Equal(t, 2, calls, "clear forces a recompute on next call")
}
