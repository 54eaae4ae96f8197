// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"path/filepath"
	"slices"
	"strings"
)

// minimalUniqueNames returns, for each run directory, the shortest name that tells it apart from the
// others, built from the path components that differ.
func minimalUniqueNames(paths ...string) []string {
	names := make([]string, len(paths))
	if len(paths) == 1 {
		names[0] = filepath.Base(filepath.Clean(paths[0]))
		return names
	}
	split := make([][]string, len(paths))
	for i, p := range paths {
		split[i] = strings.Split(filepath.Clean(p), string(filepath.Separator))
	}
	for i, components := range split {
		var diffIndexes []int
		for j, other := range split {
			if i == j {
				continue
			}
			for k := range min(len(components), len(other)) {
				if components[k] != other[k] && !slices.Contains(diffIndexes, k) {
					diffIndexes = append(diffIndexes, k)
				}
			}
			if len(components) != len(other) && !slices.Contains(diffIndexes, len(components)-1) {
				diffIndexes = append(diffIndexes, len(components)-1)
			}
		}
		slices.Sort(diffIndexes)
		switch len(diffIndexes) {
		case 0:
			names[i] = components[len(components)-1]
		case 1:
			names[i] = components[diffIndexes[0]]
		default:
			names[i] = components[diffIndexes[0]] + "..." + components[diffIndexes[len(diffIndexes)-1]]
		}
	}
	return names
}
