// Package graph runs the analysis DAG: analysts in parallel, then the
// risk gate, then the portfolio manager.
package graph

import (
	"fmt"
	"sort"
)

// Fixed node ids
const (
	StartNode = "start"
	EndNode   = "end"
)

// DAG is a static directed acyclic graph of node ids
type DAG struct {
	nodes []string
	index map[string]bool
	edges map[string][]string
}

// NewDAG creates an empty graph
func NewDAG() *DAG {
	return &DAG{index: map[string]bool{}, edges: map[string][]string{}}
}

// AddNode registers id once
func (d *DAG) AddNode(id string) error {
	if id == "" {
		return fmt.Errorf("empty node id")
	}
	if d.index[id] {
		return fmt.Errorf("duplicate node %q", id)
	}
	d.index[id] = true
	d.nodes = append(d.nodes, id)
	return nil
}

// AddEdge adds from -> to. Unknown endpoints are reported by Validate.
func (d *DAG) AddEdge(from, to string) {
	d.edges[from] = append(d.edges[from], to)
}

// Nodes returns node ids in insertion order
func (d *DAG) Nodes() []string {
	return append([]string(nil), d.nodes...)
}

// Validate rejects edges to unknown nodes and cycles
func (d *DAG) Validate() error {
	for from, tos := range d.edges {
		if !d.index[from] {
			return fmt.Errorf("edge from unknown node %q", from)
		}
		for _, to := range tos {
			if !d.index[to] {
				return fmt.Errorf("edge %s -> unknown node %q", from, to)
			}
		}
	}
	_, err := d.Levels()
	return err
}

// Levels groups nodes by longest distance from a root (Kahn's algorithm).
// Nodes in one level have no edges between them.
func (d *DAG) Levels() ([][]string, error) {
	indegree := make(map[string]int, len(d.nodes))
	for _, n := range d.nodes {
		indegree[n] += 0
		for _, to := range d.edges[n] {
			indegree[to]++
		}
	}

	var current []string
	for _, n := range d.nodes {
		if indegree[n] == 0 {
			current = append(current, n)
		}
	}

	var levels [][]string
	seen := 0
	for len(current) > 0 {
		sort.Strings(current)
		levels = append(levels, current)
		seen += len(current)

		var next []string
		for _, n := range current {
			for _, to := range d.edges[n] {
				indegree[to]--
				if indegree[to] == 0 {
					next = append(next, to)
				}
			}
		}
		current = next
	}

	if seen != len(d.nodes) {
		return nil, fmt.Errorf("graph has a cycle")
	}
	return levels, nil
}

// Build wires start -> analysts -> risk -> manager -> end
func Build(analystIDs []string, riskID, managerID string) (*DAG, error) {
	d := NewDAG()
	ids := append([]string{StartNode}, analystIDs...)
	ids = append(ids, riskID, managerID, EndNode)
	for _, id := range ids {
		if err := d.AddNode(id); err != nil {
			return nil, err
		}
	}

	for _, id := range analystIDs {
		d.AddEdge(StartNode, id)
		d.AddEdge(id, riskID)
	}
	if len(analystIDs) == 0 {
		d.AddEdge(StartNode, riskID)
	}
	d.AddEdge(riskID, managerID)
	d.AddEdge(managerID, EndNode)

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
