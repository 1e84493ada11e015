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
	"go/parser"
	"go/token"
	"sync"
)

// scanCache memoizes parsed ASTs per source file, so a function body is
// only ever parsed once regardless of how many times it is called —
// mirroring the source's own one-time-per-wrapper find_calls cost
// (CPython disassembles func.__code__ once per FunctionHelper, not per
// call; Go's equivalent cost here is go/parser.ParseFile).
type scanCache struct {
	mu    sync.Mutex
	fset  *token.FileSet
	files map[string]*ast.File
}

func newScanCache() *scanCache {
	return &scanCache{
		fset:  token.NewFileSet(),
		files: make(map[string]*ast.File),
	}
}

func (c *scanCache) parse(filename string) (*ast.File, *token.FileSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.files[filename]; ok {
		return f, c.fset, nil
	}
	f, err := parser.ParseFile(c.fset, filename, nil, parser.ParseComments)
	if err != nil {
		return nil, nil, err
	}
	c.files[filename] = f
	return f, c.fset, nil
}
