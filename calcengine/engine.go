// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package calcengine implements a lazy, self-memoizing computation graph:
// ordinary functions become nodes of a dependency graph whose results are
// cached by call-site identity and invalidated transitively when an
// upstream input changes. It is a Go port of bsdz/calcengine, keeping the
// source's exact cache/invalidation/observer semantics while replacing
// CPython bytecode disassembly with registration-time Go AST scanning.
package calcengine

import (
	"context"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// CalcEngine is the graph/cache owner: every Register call attaches a new
// node type to it, and every invocation of a returned wrapper consults and
// mutates its single shared Cache. One engine corresponds to one
// CalcEngine() instance in the source.
type CalcEngine struct {
	cache   *Cache
	scanner *Scanner
	logger  *slog.Logger
	metrics *metricsRecorder
	tracer  *tracingHooks

	mu            sync.RWMutex
	byName        map[string]*Wrapper
	methodsByType map[reflect.Type]map[string]*Wrapper

	group singleflight.Group
}

// EngineOption configures a CalcEngine at construction time.
type EngineOption func(*CalcEngine)

// WithLogger overrides the engine's slog.Logger (defaults to slog.Default()).
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *CalcEngine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New constructs an empty engine.
func New(opts ...EngineOption) *CalcEngine {
	e := &CalcEngine{
		cache:         NewCache(),
		byName:        make(map[string]*Wrapper),
		methodsByType: make(map[reflect.Type]map[string]*Wrapper),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.scanner = newScanner(e.logger)
	e.metrics = newMetricsRecorder()
	e.tracer = newTracingHooks()
	return e
}

// Clear empties all engine state — cache, id map, and reverse index —
// per spec.md §6 ("engine.clear() → empties all state"). Registrations
// themselves (the byName/methodsByType tables) survive, matching the
// source, where clear_cache never forgets which functions were decorated.
func (e *CalcEngine) Clear() {
	e.cache.Clear()
}

// Cache exposes the engine's cache for read-only diagnostic inspection
// (spec.md §6 "engine.cache: read-only inspection permitted").
func (e *CalcEngine) Cache() *Cache { return e.cache }

// RegisterOption configures one Register/RegisterMethod call.
type RegisterOption func(*registerConfig)

type registerConfig struct {
	typed bool
	alias string
	path  string
}

// Typed requests typed-keying: arguments of different types produce
// distinct node ids even when equal under ==, per spec.md §4.A.
func Typed() RegisterOption { return func(c *registerConfig) { c.typed = true } }

// Alias overrides the function-name component of the FQN.
func Alias(name string) RegisterOption { return func(c *registerConfig) { c.alias = name } }

// Path overrides the module-path component of the FQN.
func Path(path string) RegisterOption { return func(c *registerConfig) { c.path = path } }

// Wrapper is the graph-aware node produced by registration — the source's
// decorated function, carrying the same attached operations (spec.md
// §4.E): Invalidate, SetValue, SetValueAndInvalidate, plus the
// OnCalculated/OnValueSet event channels.
type Wrapper struct {
	engine *CalcEngine
	id     *identity
	pc     uintptr
	fnVal  reflect.Value
	call   reflect.Value

	OnCalculated *EventChannel
	OnValueSet   *EventChannel

	receiverType reflect.Type // non-nil only for RegisterMethod wrappers
	receiver     any          // the bound receiver itself, for RegisterMethod wrappers
}

// Func returns the callable, same-signature value to assign to a variable
// or struct field at the call site — e.g. `x := calcengine.Register(eng, rawX).Func().(func(int,int) int)`.
func (w *Wrapper) Func() any { return w.call.Interface() }

// FQN returns the node's fully-qualified name (the "helper" identity
// metadata referenced by spec.md §4.E's wrapper.helper).
func (w *Wrapper) FQN() string { return w.id.fqn }

// Register wraps f (an ordinary Go function) into a graph node. f's
// static call sites to other wrappers are discovered by Scanner at each
// invocation that misses the cache; f itself must have no receiver.
func Register[F any](e *CalcEngine, f F, opts ...RegisterOption) *Wrapper {
	return e.register(any(f), nil, opts...)
}

// RegisterMethod wraps f — a function whose computation conceptually
// belongs to receiver — into a graph node whose identity includes a
// stable token for receiver (spec.md §3 "Method handling"). f is an
// ordinary closure (commonly capturing receiver itself), not a bound
// method value, since Go method values cannot be re-pointed at another
// receiver the way this port's design notes require (DESIGN.md's
// "Receiver detection" resolution): registering the closure directly,
// with its receiver supplied explicitly, sidesteps relying on a `self`-
// named parameter the way the source's fragile convention does.
func RegisterMethod[F any](e *CalcEngine, receiver any, f F, opts ...RegisterOption) *Wrapper {
	return e.register(any(f), receiver, opts...)
}

func (e *CalcEngine) register(f any, receiver any, opts ...RegisterOption) *Wrapper {
	cfg := &registerConfig{}
	for _, o := range opts {
		o(cfg)
	}

	fnVal := reflect.ValueOf(f)
	fnType := fnVal.Type()
	pc := fnVal.Pointer()
	fqn := defaultFQN(pc, cfg.alias, cfg.path)

	w := &Wrapper{
		engine:       e,
		id:           &identity{fqn: fqn, typed: cfg.typed},
		pc:           pc,
		fnVal:        fnVal,
		OnCalculated: newEventChannel(fqn+".on_calculated", e.logger),
		OnValueSet:   newEventChannel(fqn+".on_value_set", e.logger),
	}
	if receiver != nil {
		w.receiverType = reflect.TypeOf(receiver)
		w.receiver = receiver
	}

	w.call = reflect.MakeFunc(fnType, func(args []reflect.Value) []reflect.Value {
		return w.invoke(receiver, args)
	})

	e.mu.Lock()
	if w.receiverType != nil {
		if e.methodsByType[w.receiverType] == nil {
			e.methodsByType[w.receiverType] = make(map[string]*Wrapper)
		}
		e.methodsByType[w.receiverType][funcShortName(fqn)] = w
	} else {
		e.byName[funcShortName(fqn)] = w
	}
	e.mu.Unlock()

	return w
}

func (e *CalcEngine) lookupByName(name string) *Wrapper {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.byName[name]
}

func (e *CalcEngine) lookupMethod(recvType reflect.Type, name string) *Wrapper {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m := e.methodsByType[recvType]
	if m == nil {
		return nil
	}
	return m[name]
}

// invoke implements spec.md §4.E's wrapper call semantics.
func (w *Wrapper) invoke(receiver any, args []reflect.Value) []reflect.Value {
	ctx := context.Background()
	pos, kw := splitPositionalAndKW(w.fnVal.Type(), args)
	// Method calls fold the receiver's identity token into position 0 of
	// the id tuple (spec.md §3 "Method handling"), so distinct instances of
	// the same registered method never collide on the same node id —
	// identity.go's makeNodeID leaves this substitution to its caller.
	if w.receiverType != nil {
		pos = append([]any{receiverToken(receiver)}, pos...)
	}

	sid, long, err := w.id.makeNodeID(pos, kw)
	if err != nil {
		// UnhashableArg: spec.md §4.A says the caller surfaces this as
		// an uncached ordinary invocation. We choose that branch (rather
		// than erroring the call) so user code never has to special-case
		// identity failures on every call.
		w.engine.logger.Warn("identity computation failed, running uncached", slog.String("fqn", w.id.fqn), slog.Any("err", err))
		return callDirect(w.fnVal, args)
	}
	_ = w.engine.cache.RememberID(sid, long)

	if rec, ok := w.engine.cache.Get(sid); ok {
		w.engine.metrics.recordHit(w.id.fqn)
		return valuesFromResult(w.fnVal.Type(), rec.Value)
	}

	_, span := w.engine.tracer.startCall(ctx, w.id.fqn, string(sid))
	defer span.end()

	// Concurrent callers racing on the same miss coalesce into a single
	// recomputation via singleflight — the optional thread-safety
	// extension spec.md §5 invites, without introducing parallel
	// evaluation of *independent* nodes (the §1 Non-goal is unaffected).
	result, err, _ := w.engine.group.Do(string(sid), func() (any, error) {
		if rec, ok := w.engine.cache.Get(sid); ok {
			return rec.Value, nil
		}
		requires, _ := w.discoverDependencies(receiver)
		w.engine.cache.PutRequires(sid, requires, long)
		w.engine.logger.Debug("node recomputed",
			slog.String("short_id", string(sid)),
			slog.String("requires", joinShortIDs(requires)))

		out, recovered := w.safeCall(args)
		if recovered != nil {
			// Open Question (b): remove the partial record on failure
			// rather than leaving requires populated with no value
			// (DESIGN.md).
			w.engine.cache.Invalidate(sid)
			panic(&UserFunctionError{FQN: w.id.fqn, Panic: recovered})
		}

		value := resultToValue(w.fnVal.Type(), out)
		if n := len(out); n > 0 && w.fnVal.Type().Out(n-1) == reflect.TypeOf((*error)(nil)).Elem() && !out[n-1].IsNil() {
			// A non-nil error return is a failed call too: no record is
			// kept and no event fires, so the next call retries.
			w.engine.cache.Invalidate(sid)
			return value, nil
		}
		w.engine.cache.Put(sid, value, requires, long)
		w.engine.logger.Debug(string(sid)+" called requiring: "+joinShortIDs(requires),
			slog.String("short_id", string(sid)),
			slog.String("requires", joinShortIDs(requires)))
		w.engine.metrics.recordRecompute(w.id.fqn, len(requires))
		w.OnCalculated.fire(value)
		return value, nil
	})
	_ = err // the Do closure never returns a non-nil error; panics propagate instead
	return valuesFromResult(w.fnVal.Type(), result)
}

// kwArgType is the reflect.Type of a trailing KW argument the scanner also
// recognizes as a calcengine.KW{...} composite literal (scanner.go's
// evalKWLiteral).
var kwArgType = reflect.TypeOf(KW{})

// splitPositionalAndKW separates a live call's reflect args into the
// positional segment and, if the wrapper's final parameter is a KW (or a
// variadic ...KW), the keyword segment — the runtime counterpart of
// discoverDependencies' scanner-side evalArgs, so a real call and a
// statically discovered call site of the same call hash to the same node
// id. A live KW argument is an ordinary Go map, which has no iteration
// order, so its pairs are sorted by key — see identity.go's KwPair doc.
func splitPositionalAndKW(fnType reflect.Type, args []reflect.Value) ([]any, []KwPair) {
	posEnd := len(args)
	var kw []KwPair
	if n := fnType.NumIn(); n > 0 {
		last := fnType.In(n - 1)
		switch {
		case fnType.IsVariadic() && last.Elem() == kwArgType:
			if s := args[len(args)-1]; s.Len() > 0 {
				kw = kwMapToPairs(s.Index(0).Interface().(KW))
			}
			posEnd--
		case !fnType.IsVariadic() && last == kwArgType:
			kw = kwMapToPairs(args[len(args)-1].Interface().(KW))
			posEnd--
		}
	}
	pos := make([]any, posEnd)
	for i := 0; i < posEnd; i++ {
		pos[i] = args[i].Interface()
	}
	return pos, kw
}

// kwMapToPairs renders a live KW map's entries into identity.go's KwPair
// form, canonicalizing each value the same way the scanner's
// formatKwValue does so a recorded dependency edge and the real call it
// describes resolve to the same node id.
func kwMapToPairs(m KW) []KwPair {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]KwPair, len(keys))
	for i, k := range keys {
		pairs[i] = KwPair{Key: k, Value: formatKwValue(m[k])}
	}
	return pairs
}

// splitAnyKW is splitPositionalAndKW's counterpart for the plain-any
// argument lists Invalidate/SetValue/SetValueAndInvalidate accept — a
// trailing KW argument (e.g. w.Invalidate(5, calcengine.KW{"y": -3}))
// addresses the same node a live call with those arguments would.
func splitAnyKW(args []any) ([]any, []KwPair) {
	if len(args) == 0 {
		return args, nil
	}
	if m, ok := args[len(args)-1].(KW); ok {
		return args[:len(args)-1], kwMapToPairs(m)
	}
	return args, nil
}

func (w *Wrapper) safeCall(args []reflect.Value) (result []reflect.Value, recovered any) {
	defer func() {
		recovered = recover()
	}()
	result = w.fnVal.Call(args)
	return result, nil
}

func callDirect(fn reflect.Value, args []reflect.Value) []reflect.Value {
	return fn.Call(args)
}

// discoverDependencies runs the 4.B scanner over w's own source body,
// resolving each discovered call site against the engine's registry and
// folding it into a short-id dependency set. receiver is the bound value
// this particular invocation used (nil for non-method wrappers), needed
// to compute the identity of same-receiver self-calls.
func (w *Wrapper) discoverDependencies(receiver any) (map[ShortID]struct{}, error) {
	requires := make(map[ShortID]struct{})
	body, _ := w.engine.scanner.locateFuncBody(w.pc)
	if body == nil {
		return requires, nil // ScannerSkip: unreadable source, run without tracking
	}
	for _, site := range w.engine.scanner.CallSites(body) {
		var target *Wrapper
		if site.IsSelector {
			if w.receiverType == nil {
				continue // selector call inside a non-method wrapper: not tracked
			}
			target = w.engine.lookupMethod(w.receiverType, site.Name)
		} else {
			target = w.engine.lookupByName(site.Name)
		}
		if target == nil {
			continue // not a graph callable: silently skipped, spec.md §4.B
		}
		pos, kw, complete := evalArgs(site.Args)
		if !complete {
			continue // runtime-computed argument: invisible to the scanner
		}
		if target.receiverType != nil {
			pos = append([]any{receiverToken(receiver)}, pos...)
		}
		sid, long, err := target.id.makeNodeID(pos, kw)
		if err != nil {
			continue
		}
		_ = w.engine.cache.RememberID(sid, long)
		requires[sid] = struct{}{}
	}
	return requires, nil
}

// Invalidate deletes this node (for the given call arguments) and every
// node that transitively requires it, per spec.md §4.E's
// wrapper.invalidate.
func (w *Wrapper) Invalidate(args ...any) error {
	pos, kw := splitAnyKW(args)
	sid, _, err := w.id.makeNodeID(w.boundPos(pos), kw)
	if err != nil {
		return err
	}
	n := w.engine.cache.Invalidate(sid)
	w.engine.metrics.recordInvalidation(w.id.fqn, n)
	return nil
}

// SetValue writes newVal into the node identified by args without
// invalidating its required-by set, firing OnValueSet.
func (w *Wrapper) SetValue(newVal any, args ...any) error {
	pos, kw := splitAnyKW(args)
	sid, long, err := w.id.makeNodeID(w.boundPos(pos), kw)
	if err != nil {
		return err
	}
	_ = w.engine.cache.RememberID(sid, long)
	w.engine.cache.SetValue(sid, newVal, long)
	w.OnValueSet.fire(newVal)
	return nil
}

// SetValueAndInvalidate writes newVal, then invalidates every node that
// requires this one (but not this node itself — spec.md §9's documented
// set_value_and_invalidate quirk, preserved deliberately), then fires
// OnValueSet.
func (w *Wrapper) SetValueAndInvalidate(newVal any, args ...any) error {
	pos, kw := splitAnyKW(args)
	sid, long, err := w.id.makeNodeID(w.boundPos(pos), kw)
	if err != nil {
		return err
	}
	_ = w.engine.cache.RememberID(sid, long)
	w.engine.cache.SetValue(sid, newVal, long)
	w.engine.cache.InvalidateRequiredByOnly(sid)
	w.OnValueSet.fire(newVal)
	return nil
}

// boundPos prepends this wrapper's own receiver token (for RegisterMethod
// wrappers) to args, mirroring invoke's identity computation so
// Invalidate/SetValue/SetValueAndInvalidate address the same node a live
// call would.
func (w *Wrapper) boundPos(args []any) []any {
	if w.receiverType == nil {
		return args
	}
	return append([]any{receiverToken(w.receiver)}, args...)
}

func joinShortIDs(ids map[ShortID]struct{}) string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, string(id))
	}
	return joinStrings(out, ", ")
}

func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	out := ss[0]
	for _, s := range ss[1:] {
		out += sep + s
	}
	return out
}

// funcShortName extracts the trailing "function-name" component of an
// FQN ("pkg/path.Name" -> "Name"), the identifier the scanner expects to
// find at call sites.
func funcShortName(fqn string) string {
	for i := len(fqn) - 1; i >= 0; i-- {
		if fqn[i] == '.' {
			return fqn[i+1:]
		}
	}
	return fqn
}
