// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apps

import (
	"slices"

	"github.com/bureau-foundation/sysmon/lib/ipc"
)

// InitPID is the pid the tree is rooted at when present.
const InitPID = 1

// BuildTree links a flat process list into a tree rooted at pid 1.
// Processes whose parent is missing from the list, and processes that
// are only reachable through a parent cycle, are attached directly to
// the root. When pid 1 is absent a synthetic root with pid 0 holds
// every top-level process. Children are ordered by pid. Any Children
// already present on the input entries are ignored.
func BuildTree(processes []ipc.Process) ipc.Process {
	byPID := make(map[uint32]int, len(processes))
	for index, process := range processes {
		byPID[process.PID] = index
	}

	children := make(map[uint32][]uint32, len(processes))
	for _, process := range processes {
		if process.PID == InitPID || process.PID == process.ParentPID {
			continue
		}
		if _, ok := byPID[process.ParentPID]; ok {
			children[process.ParentPID] = append(children[process.ParentPID], process.PID)
		}
	}
	for _, list := range children {
		slices.Sort(list)
	}

	visited := make(map[uint32]bool, len(processes))
	var build func(pid uint32) ipc.Process
	build = func(pid uint32) ipc.Process {
		visited[pid] = true
		node := processes[byPID[pid]]
		node.Children = nil
		for _, child := range children[pid] {
			if visited[child] {
				continue
			}
			node.Children = append(node.Children, build(child))
		}
		return node
	}

	var root ipc.Process
	if _, ok := byPID[InitPID]; ok {
		root = build(InitPID)
	}

	// Everything not reached from pid 1 hangs off the root, preferring
	// the topmost ancestor so subtrees stay intact.
	var orphans []uint32
	for _, process := range processes {
		if visited[process.PID] {
			continue
		}
		if _, hasParent := byPID[process.ParentPID]; !hasParent || process.ParentPID == process.PID {
			orphans = append(orphans, process.PID)
		}
	}
	slices.Sort(orphans)
	for _, pid := range orphans {
		if !visited[pid] {
			root.Children = append(root.Children, build(pid))
		}
	}
	// Parent cycles have no topmost ancestor; attach what remains.
	for _, process := range processes {
		if !visited[process.PID] {
			root.Children = append(root.Children, build(process.PID))
		}
	}
	return root
}

// Walk visits node and its descendants depth-first, parents before
// children. Returning false from visit skips the node's subtree.
func Walk(node *ipc.Process, visit func(*ipc.Process) bool) {
	if !visit(node) {
		return
	}
	for index := range node.Children {
		Walk(&node.Children[index], visit)
	}
}

// Count returns the number of processes in the tree, root included.
func Count(root ipc.Process) int {
	count := 0
	Walk(&root, func(*ipc.Process) bool {
		count++
		return true
	})
	return count
}

// Find returns the node with pid, or nil.
func Find(root *ipc.Process, pid uint32) *ipc.Process {
	var found *ipc.Process
	Walk(root, func(node *ipc.Process) bool {
		if found != nil {
			return false
		}
		if node.PID == pid {
			found = node
			return false
		}
		return true
	})
	return found
}
