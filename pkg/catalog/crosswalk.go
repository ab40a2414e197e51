package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// ControlRef names a control in a specific framework, written "framework:control".
type ControlRef struct {
	Framework string `json:"framework"`
	ControlID string `json:"control_id"`
	Title     string `json:"title,omitempty"`
}

func (r ControlRef) String() string { return r.Framework + ":" + r.ControlID }

// ParseRef parses "framework:control". The framework part is lowercased.
func ParseRef(s string) (ControlRef, error) {
	fw, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || fw == "" || id == "" {
		return ControlRef{}, fmt.Errorf("invalid control reference %q, want framework:control", s)
	}
	return ControlRef{Framework: strings.ToLower(fw), ControlID: id}, nil
}

// Crosswalk is the undirected graph of equivalent controls across the
// loaded frameworks, built from each control's related references.
// References to frameworks or controls that are not loaded are dropped.
type Crosswalk struct {
	nodes map[string]ControlRef
	edges map[string][]string
}

// NewCrosswalk builds the crosswalk of every catalog in r.
func NewCrosswalk(r *Registry) *Crosswalk {
	cw := &Crosswalk{nodes: make(map[string]ControlRef), edges: make(map[string][]string)}
	for _, fw := range r.List() {
		for _, c := range fw.Controls {
			ref := ControlRef{Framework: fw.ID, ControlID: c.ID, Title: c.Title}
			cw.nodes[ref.String()] = ref
		}
	}
	for _, fw := range r.List() {
		for _, c := range fw.Controls {
			from := ControlRef{Framework: fw.ID, ControlID: c.ID}.String()
			for _, rel := range c.Related {
				to, err := ParseRef(rel)
				if err != nil {
					continue
				}
				if _, ok := cw.nodes[to.String()]; !ok {
					continue
				}
				cw.link(from, to.String())
				cw.link(to.String(), from)
			}
		}
	}
	for k := range cw.edges {
		sort.Strings(cw.edges[k])
	}
	return cw
}

func (cw *Crosswalk) link(from, to string) {
	for _, e := range cw.edges[from] {
		if e == to {
			return
		}
	}
	cw.edges[from] = append(cw.edges[from], to)
}

// Related returns the controls directly mapped to framework:control.
func (cw *Crosswalk) Related(framework, controlID string) []ControlRef {
	key := ControlRef{Framework: framework, ControlID: controlID}.String()
	out := make([]ControlRef, 0, len(cw.edges[key]))
	for _, k := range cw.edges[key] {
		out = append(out, cw.nodes[k])
	}
	return out
}

// Path returns the shortest chain of mappings from one control to another,
// both ends included, or nil when they are not connected.
func (cw *Crosswalk) Path(from, to ControlRef) []ControlRef {
	start, end := from.String(), to.String()
	if _, ok := cw.nodes[start]; !ok {
		return nil
	}
	if _, ok := cw.nodes[end]; !ok {
		return nil
	}

	queue := [][]string{{start}}
	visited := map[string]bool{start: true}
	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]

		node := path[len(path)-1]
		if node == end {
			out := make([]ControlRef, len(path))
			for i, k := range path {
				out[i] = cw.nodes[k]
			}
			return out
		}
		for _, next := range cw.edges[node] {
			if visited[next] {
				continue
			}
			visited[next] = true
			step := make([]string, len(path), len(path)+1)
			copy(step, path)
			queue = append(queue, append(step, next))
		}
	}
	return nil
}

// Equivalents returns every control reachable from framework:control in
// other frameworks, in breadth-first then id order.
func (cw *Crosswalk) Equivalents(framework, controlID string) []ControlRef {
	start := ControlRef{Framework: framework, ControlID: controlID}.String()
	if _, ok := cw.nodes[start]; !ok {
		return nil
	}
	var out []ControlRef
	queue := []string{start}
	visited := map[string]bool{start: true}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range cw.edges[node] {
			if visited[next] {
				continue
			}
			visited[next] = true
			queue = append(queue, next)
			if ref := cw.nodes[next]; ref.Framework != framework {
				out = append(out, ref)
			}
		}
	}
	return out
}
