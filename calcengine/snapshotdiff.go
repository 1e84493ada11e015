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
	"sort"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// SnapshotDiff renders the structural difference between two snapshots
// (node ids present and their requires sets) as a unified diff, grounded
// on trace/diff/parse.go's generate-then-parse-with-go-diff pattern: a
// line-level diff is produced directly, then handed to go-diff so the
// result carries the same Hunk shape the rest of the pack already knows
// how to render.
type SnapshotDiffResult struct {
	FromLabel string
	ToLabel   string
	Hunks     []*godiff.Hunk
	Unified   string
}

func SnapshotDiff(fromLabel string, fromNodes map[ShortID][]ShortID, toLabel string, toNodes map[ShortID][]ShortID) (*SnapshotDiffResult, error) {
	fromLines := renderNodeLines(fromNodes)
	toLines := renderNodeLines(toNodes)

	unified := formatUnifiedNodeDiff(fromLabel, toLabel, fromLines, toLines)
	if unified == "" {
		return &SnapshotDiffResult{FromLabel: fromLabel, ToLabel: toLabel}, nil
	}

	fileDiffs, err := godiff.ParseMultiFileDiff([]byte(unified))
	if err != nil {
		return nil, fmt.Errorf("parsing snapshot diff: %w", err)
	}
	var hunks []*godiff.Hunk
	for _, fd := range fileDiffs {
		hunks = append(hunks, fd.Hunks...)
	}
	return &SnapshotDiffResult{FromLabel: fromLabel, ToLabel: toLabel, Hunks: hunks, Unified: unified}, nil
}

// renderNodeLines renders a snapshot's shape as sorted
// "<id> requires: <id>, <id>, ..." lines so two snapshots diff the way
// two text files would.
func renderNodeLines(nodes map[ShortID][]ShortID) []string {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		reqs := nodes[ShortID(id)]
		reqStrs := make([]string, 0, len(reqs))
		for _, r := range reqs {
			reqStrs = append(reqStrs, string(r))
		}
		sort.Strings(reqStrs)
		lines = append(lines, fmt.Sprintf("%s requires: %s", id, strings.Join(reqStrs, ", ")))
	}
	return lines
}

type diffEdit struct {
	kind    byte // ' ', '+', '-'
	oldLine int
	newLine int
	text    string
}

func computeNodeEdits(oldLines, newLines []string) []diffEdit {
	oldSeen := make(map[string]bool, len(oldLines))
	for _, l := range oldLines {
		oldSeen[l] = true
	}
	newSeen := make(map[string]bool, len(newLines))
	for _, l := range newLines {
		newSeen[l] = true
	}

	var edits []diffEdit
	oldIdx, newIdx := 0, 0
	for oldIdx < len(oldLines) || newIdx < len(newLines) {
		switch {
		case oldIdx < len(oldLines) && !newSeen[oldLines[oldIdx]]:
			edits = append(edits, diffEdit{kind: '-', oldLine: oldIdx + 1, text: oldLines[oldIdx]})
			oldIdx++
		case newIdx < len(newLines) && !oldSeen[newLines[newIdx]]:
			edits = append(edits, diffEdit{kind: '+', newLine: newIdx + 1, text: newLines[newIdx]})
			newIdx++
		case oldIdx < len(oldLines) && newIdx < len(newLines):
			edits = append(edits, diffEdit{kind: ' ', oldLine: oldIdx + 1, newLine: newIdx + 1, text: oldLines[oldIdx]})
			oldIdx++
			newIdx++
		case oldIdx < len(oldLines):
			edits = append(edits, diffEdit{kind: '-', oldLine: oldIdx + 1, text: oldLines[oldIdx]})
			oldIdx++
		default:
			edits = append(edits, diffEdit{kind: '+', newLine: newIdx + 1, text: newLines[newIdx]})
			newIdx++
		}
	}
	return edits
}

func formatUnifiedNodeDiff(fromLabel, toLabel string, fromLines, toLines []string) string {
	edits := computeNodeEdits(fromLines, toLines)
	changed := false
	for _, e := range edits {
		if e.kind != ' ' {
			changed = true
			break
		}
	}
	if !changed {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n", fromLabel)
	fmt.Fprintf(&b, "+++ %s\n", toLabel)
	fmt.Fprintf(&b, "@@ -1,%d +1,%d @@\n", len(fromLines), len(toLines))
	for _, e := range edits {
		b.WriteByte(e.kind)
		b.WriteString(e.text)
		b.WriteByte('\n')
	}
	return b.String()
}
