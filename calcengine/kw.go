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

// KW carries keyword-style arguments into a registered call. Go has no
// call-site keyword-argument syntax, so a wrapper's final formal parameter
// may be declared as KW and a call site can pass a KW{...} literal —
// e.g. d(5, calcengine.KW{"y": -3}) — the literal-scanning equivalent of
// the source's d(5, y=-3). Both the scanner (scanner.go, reading the
// literal at a discovered call site) and the live wrapper call itself
// (engine.go's splitPositionalAndKW, reading the real map argument) fold
// a KW value's entries into the long id's keyword segment sorted by key,
// since a Go map carries no iteration order to preserve.
type KW map[string]any
