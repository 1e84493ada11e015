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
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/mod/modfile"
)

// moduleRoot caches the result of locating the enclosing go.mod once per
// process, the Go replacement for the source's sys.path-relative module
// path heuristic (FunctionHelper.fqn in function_helper.py).
var (
	moduleRootOnce sync.Once
	moduleRootPath string
	moduleRootName string
)

func resolveModuleRoot() (dir, modulePath string) {
	moduleRootOnce.Do(func() {
		_, file, _, ok := runtime.Caller(0)
		if !ok {
			return
		}
		dir := filepath.Dir(file)
		for {
			gomod := filepath.Join(dir, "go.mod")
			if data, err := os.ReadFile(gomod); err == nil {
				moduleRootPath = dir
				moduleRootName = modfile.ModulePath(data)
				return
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				return
			}
			dir = parent
		}
	})
	return moduleRootPath, moduleRootName
}

// defaultFQN derives "<module-path>.<function-name>" for a registered
// function whose location was captured via runtime.Caller, honoring the
// alias (function-name override) and path (module-path override) the
// caller may supply at registration time, per spec.md §3's FQN rules.
func defaultFQN(pc uintptr, alias, path string) string {
	name := alias
	if name == "" {
		name = qualifiedFuncName(pc)
	}
	modPath := path
	if modPath == "" {
		modPath = inferModulePath(pc)
	}
	return modPath + "." + name
}

func qualifiedFuncName(pc uintptr) string {
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	full := fn.Name()
	if i := strings.LastIndex(full, "/"); i >= 0 {
		full = full[i+1:]
	}
	return full
}

func inferModulePath(pc uintptr) string {
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	file, _ := fn.FileLine(pc)
	rootDir, rootModule := resolveModuleRoot()
	if rootDir == "" {
		return filepath.Dir(file)
	}
	rel, err := filepath.Rel(rootDir, filepath.Dir(file))
	if err != nil || strings.HasPrefix(rel, "..") {
		return rootModule
	}
	if rel == "." {
		return rootModule
	}
	return rootModule + "/" + filepath.ToSlash(rel)
}
