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
	"testing"

	"github.com/bsdz/calcengine/calcengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutAndGet(t *testing.T) {
	c := calcengine.NewCache()
	long := calcengine.LongID{FQN: "pkg.Fn"}
	require.NoError(t, c.RememberID("id1", long))

	c.Put("id1", 42, map[calcengine.ShortID]struct{}{}, long)

	rec, ok := c.Get("id1")
	require.True(t, ok)
	assert.Equal(t, 42, rec.Value)
	assert.Equal(t, 1, c.Len())
}

func TestCache_GetMissingIsFalse(t *testing.T) {
	c := calcengine.NewCache()
	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestCache_RememberID_CollisionIsReported(t *testing.T) {
	c := calcengine.NewCache()
	require.NoError(t, c.RememberID("id1", calcengine.LongID{FQN: "pkg.A"}))
	err := c.RememberID("id1", calcengine.LongID{FQN: "pkg.B"})
	assert.ErrorIs(t, err, calcengine.ErrIdentityCollision)
}

func TestCache_RememberID_SameLongIDIsNotACollision(t *testing.T) {
	c := calcengine.NewCache()
	long := calcengine.LongID{FQN: "pkg.A"}
	require.NoError(t, c.RememberID("id1", long))
	assert.NoError(t, c.RememberID("id1", long))
}

func TestCache_RequiredBy_TransitiveClosure(t *testing.T) {
	c := calcengine.NewCache()
	long := calcengine.LongID{}

	// a <- b <- c (b requires a, c requires b)
	c.Put("a", 1, map[calcengine.ShortID]struct{}{}, long)
	c.Put("b", 2, map[calcengine.ShortID]struct{}{"a": {}}, long)
	c.Put("c", 3, map[calcengine.ShortID]struct{}{"b": {}}, long)

	requiredByA := c.RequiredBy("a")
	assert.Len(t, requiredByA, 2)
	_, hasB := requiredByA["b"]
	_, hasC := requiredByA["c"]
	assert.True(t, hasB)
	assert.True(t, hasC)
}

func TestCache_Invalidate_CascadesAndReturnsCount(t *testing.T) {
	c := calcengine.NewCache()
	long := calcengine.LongID{}

	c.Put("a", 1, map[calcengine.ShortID]struct{}{}, long)
	c.Put("b", 2, map[calcengine.ShortID]struct{}{"a": {}}, long)
	c.Put("c", 3, map[calcengine.ShortID]struct{}{"b": {}}, long)

	n := c.Invalidate("a")
	assert.Equal(t, 3, n, "invalidating a must remove a, b, and c")
	assert.Equal(t, 0, c.Len())
}

func TestCache_Invalidate_LeavesUnrelatedNodesAlone(t *testing.T) {
	c := calcengine.NewCache()
	long := calcengine.LongID{}

	c.Put("a", 1, map[calcengine.ShortID]struct{}{}, long)
	c.Put("b", 2, map[calcengine.ShortID]struct{}{"a": {}}, long)
	c.Put("unrelated", 99, map[calcengine.ShortID]struct{}{}, long)

	c.Invalidate("a")
	_, ok := c.Get("unrelated")
	assert.True(t, ok, "invalidating a must not touch an unrelated node")
	assert.Equal(t, 1, c.Len())
}

func TestCache_InvalidateRequiredByOnly_KeepsTheNodeItself(t *testing.T) {
	c := calcengine.NewCache()
	long := calcengine.LongID{}

	c.Put("a", 1, map[calcengine.ShortID]struct{}{}, long)
	c.Put("b", 2, map[calcengine.ShortID]struct{}{"a": {}}, long)

	c.InvalidateRequiredByOnly("a")

	_, aStillPresent := c.Get("a")
	_, bStillPresent := c.Get("b")
	assert.True(t, aStillPresent, "set_value_and_invalidate must leave the node's own value in place")
	assert.False(t, bStillPresent, "set_value_and_invalidate must still remove dependents")
}

func TestCache_SetValue_DoesNotTouchRequiredBySet(t *testing.T) {
	c := calcengine.NewCache()
	long := calcengine.LongID{}

	c.Put("a", 1, map[calcengine.ShortID]struct{}{}, long)
	c.Put("b", 2, map[calcengine.ShortID]struct{}{"a": {}}, long)

	c.SetValue("a", 100, long)

	rec, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 100, rec.Value)
	_, bStillPresent := c.Get("b")
	assert.True(t, bStillPresent, "set_value must not invalidate dependents")
}

func TestCache_Clear_WipesEverything(t *testing.T) {
	c := calcengine.NewCache()
	long := calcengine.LongID{}
	require.NoError(t, c.RememberID("a", long))
	c.Put("a", 1, map[calcengine.ShortID]struct{}{}, long)

	c.Clear()

	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.IDMap())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCache_Snapshot_IsACopy(t *testing.T) {
	c := calcengine.NewCache()
	long := calcengine.LongID{}
	c.Put("a", 1, map[calcengine.ShortID]struct{}{}, long)

	snap := c.Snapshot()
	require.Contains(t, snap, calcengine.ShortID("a"))

	c.Invalidate("a")
	assert.Contains(t, snap, calcengine.ShortID("a"), "a snapshot must not be affected by later cache mutation")
}
