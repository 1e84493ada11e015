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
	"go/ast"
	"go/token"
	"log/slog"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/tools/go/ast/astutil"
)

// rawCallSite is one candidate call expression discovered inside a
// registered function's body, before it is matched against the engine's
// registry and folded into a node identity.
type rawCallSite struct {
	// Name is the called identifier: either a bare function identifier
	// (x(...)) or a selector's method name (this.Method(...)).
	Name string
	// IsSelector is true for this.Method(...) call shapes.
	IsSelector bool
	// ReceiverExprName is the textual name of the selector's base
	// expression (e.g. "this" in this.Method(...)), or "" when the base is
	// not a plain identifier. engine.go's discoverDependencies resolves a
	// selector call by method name alone and does not consult it.
	ReceiverExprName string
	Args             []ast.Expr
}

// Scanner is the 4.B CallSiteScanner component: given a registered Go
// function, it parses the function's own source file once (scanCache),
// locates the enclosing *ast.FuncDecl via astutil.PathEnclosingInterval —
// the idiomatic Go stand-in for disassembling CPython bytecode — and
// walks its body for literal-argument call sites.
type Scanner struct {
	cache  *scanCache
	logger *slog.Logger
}

func newScanner(logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{cache: newScanCache(), logger: logger}
}

// locateFuncBody maps a registered function's program counter back to its
// enclosing block statement and the token.FileSet used to parse it. Both
// ordinary function/method declarations (*ast.FuncDecl) and function
// literals (*ast.FuncLit) are supported — registration commonly wraps a
// closure bound over a receiver variable (see engine.go's RegisterMethod),
// so the innermost enclosing body is whichever of the two comes first.
func (s *Scanner) locateFuncBody(pc uintptr) (*ast.BlockStmt, *token.FileSet) {
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return nil, nil
	}
	file, line := fn.FileLine(pc)
	if file == "" {
		return nil, nil
	}
	astFile, fset, err := s.cache.parse(file)
	if err != nil {
		// ScannerSkip: an unreadable source file yields no dependency
		// edges but never fails the call itself (spec.md §4.B "Failure
		// semantics").
		s.logger.Debug("scanner could not parse source, skipping", slog.String("file", file), slog.Any("err", err))
		return nil, nil
	}
	pos := fset.File(astFile.Pos()).LineStart(line)
	path, _ := astutil.PathEnclosingInterval(astFile, pos, pos)
	// A function literal rarely starts at column 1, so the line start lies
	// outside it: look for a literal that begins on this line first.
	if len(path) > 0 {
		var lit *ast.FuncLit
		ast.Inspect(path[0], func(n ast.Node) bool {
			if fl, ok := n.(*ast.FuncLit); ok && lit == nil && fset.Position(fl.Pos()).Line == line {
				lit = fl
			}
			return lit == nil
		})
		if lit != nil {
			return lit.Body, fset
		}
	}
	for _, n := range path {
		switch decl := n.(type) {
		case *ast.FuncDecl:
			return decl.Body, fset
		case *ast.FuncLit:
			return decl.Body, fset
		}
	}
	return nil, fset
}

// CallSites returns every call expression with an identifier or selector
// callee anywhere in body, including inside nested blocks and function
// literals. Each call is recorded once, whatever loop or branch contains
// it; arguments are not checked here (evalArgs decides whether they are
// literals).
func (s *Scanner) CallSites(body *ast.BlockStmt) []rawCallSite {
	if body == nil {
		return nil
	}
	var sites []rawCallSite
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		switch fn := call.Fun.(type) {
		case *ast.Ident:
			sites = append(sites, rawCallSite{Name: fn.Name, Args: call.Args})
		case *ast.SelectorExpr:
			recvName := ""
			if ident, ok := fn.X.(*ast.Ident); ok {
				recvName = ident.Name
			}
			sites = append(sites, rawCallSite{
				Name:             fn.Sel.Name,
				IsSelector:       true,
				ReceiverExprName: recvName,
				Args:             call.Args,
			})
		}
		return true
	})
	return sites
}

// evalArgs splits a call site's argument expressions into the literal
// positional segment and, if the final argument is a `calcengine.KW{...}`
// or `KW{...}` composite literal, the keyword segment — the Go analogue
// of the source's LOAD_CONST-until-CALL_FUNCTION_KW state machine.
// Non-literal arguments (anything computed at runtime) stop the scan at
// that position: everything from there on is invisible to the scanner,
// exactly as spec.md §4.B documents ("a call whose arguments are computed
// at runtime is invisible to the scanner").
func evalArgs(args []ast.Expr) (pos []any, kw []KwPair, complete bool) {
	complete = true
	for i, a := range args {
		if i == len(args)-1 {
			if kvs, ok := evalKWLiteral(a); ok {
				kw = kvs
				continue
			}
		}
		v, ok := evalLiteral(a)
		if !ok {
			complete = false
			break
		}
		pos = append(pos, v)
	}
	return pos, kw, complete
}

func evalLiteral(expr ast.Expr) (any, bool) {
	switch e := expr.(type) {
	case *ast.BasicLit:
		return basicLitValue(e)
	case *ast.UnaryExpr:
		if e.Op == token.SUB {
			if v, ok := evalLiteral(e.X); ok {
				switch n := v.(type) {
				case int64:
					return -n, true
				case float64:
					return -n, true
				}
			}
		}
	case *ast.Ident:
		switch e.Name {
		case "true":
			return true, true
		case "false":
			return false, true
		case "nil":
			return nil, true
		}
	}
	return nil, false
}

func basicLitValue(lit *ast.BasicLit) (any, bool) {
	switch lit.Kind {
	case token.INT:
		n, err := strconv.ParseInt(lit.Value, 0, 64)
		if err != nil {
			return nil, false
		}
		return n, true
	case token.FLOAT:
		f, err := strconv.ParseFloat(lit.Value, 64)
		if err != nil {
			return nil, false
		}
		return f, true
	case token.STRING:
		s, err := strconv.Unquote(lit.Value)
		if err != nil {
			return nil, false
		}
		return s, true
	case token.CHAR:
		s, err := strconv.Unquote(lit.Value)
		if err != nil || len(s) == 0 {
			return nil, false
		}
		return rune(s[0]), true
	}
	return nil, false
}

// evalKWLiteral recognizes a trailing KW{"name": literal, ...} composite
// literal and extracts its entries sorted by key. A live call supplies its
// KW argument as a Go map, which carries no iteration order, so key order
// is the only ordering a parsed literal and a runtime map value can agree
// on — see engine.go's splitPositionalAndKW, which sorts the same way.
func evalKWLiteral(expr ast.Expr) ([]KwPair, bool) {
	cl, ok := expr.(*ast.CompositeLit)
	if !ok {
		return nil, false
	}
	typeName := ""
	switch t := cl.Type.(type) {
	case *ast.Ident:
		typeName = t.Name
	case *ast.SelectorExpr:
		typeName = t.Sel.Name
	}
	if !strings.EqualFold(typeName, "KW") {
		return nil, false
	}
	type kwLiteralEntry struct {
		key string
		val any
	}
	var entries []kwLiteralEntry
	for _, elt := range cl.Elts {
		kv, ok := elt.(*ast.KeyValueExpr)
		if !ok {
			return nil, false
		}
		keyLit, ok := kv.Key.(*ast.BasicLit)
		if !ok || keyLit.Kind != token.STRING {
			return nil, false
		}
		key, err := strconv.Unquote(keyLit.Value)
		if err != nil {
			return nil, false
		}
		val, ok := evalLiteral(kv.Value)
		if !ok {
			return nil, false
		}
		entries = append(entries, kwLiteralEntry{key, val})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	out := make([]KwPair, len(entries))
	for i, e := range entries {
		out[i] = KwPair{Key: e.key, Value: formatKwValue(e.val)}
	}
	return out, true
}

// formatKwValue defers to the identity package's canonicalization so a
// scanner-discovered keyword value and a real call-time keyword value
// hash identically; see identity.go's canonicalizeArg.
func formatKwValue(value any) string {
	repr, err := canonicalizeArg("", 0, value, false)
	if err != nil {
		return ""
	}
	return repr
}
