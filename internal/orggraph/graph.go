// Package orggraph holds the two-level school/department tree as an arena of
// nodes with explicit parent indexes. Edges are validated when nodes are added,
// so lookups never need to repair the shape.
package orggraph

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/campus-numbers/backend/internal/models"
)

const noParent = -1

type node struct {
	org      models.Organization
	parent   int
	children []int
}

// Graph is an immutable-after-build organization tree.
type Graph struct {
	nodes []node
	index map[uuid.UUID]int
}

// New builds a graph from a flat list. Schools are inserted before departments
// so input order does not matter.
func New(orgs []models.Organization) (*Graph, error) {
	g := &Graph{index: make(map[uuid.UUID]int, len(orgs))}
	for _, o := range orgs {
		if o.Kind == models.OrgKindSchool {
			if err := g.add(o); err != nil {
				return nil, err
			}
		}
	}
	for _, o := range orgs {
		if o.Kind != models.OrgKindSchool {
			if err := g.add(o); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

func (g *Graph) add(o models.Organization) error {
	if _, dup := g.index[o.ID]; dup {
		return fmt.Errorf("%w: duplicate organization %s", models.ErrValidation, o.ID)
	}
	if err := g.ValidateEdge(o.Kind, o.ParentID); err != nil {
		return fmt.Errorf("organization %s: %w", o.ID, err)
	}
	n := node{org: o, parent: noParent}
	idx := len(g.nodes)
	if o.ParentID != nil {
		p := g.index[*o.ParentID]
		n.parent = p
		g.nodes[p].children = append(g.nodes[p].children, idx)
	}
	g.nodes = append(g.nodes, n)
	g.index[o.ID] = idx
	return nil
}

// ValidateEdge checks the depth rule for a node of the given kind placed
// under parentID: schools have no parent, departments hang off a school.
func (g *Graph) ValidateEdge(kind models.OrgKind, parentID *uuid.UUID) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown organization kind %q", models.ErrValidation, kind)
	}
	if kind == models.OrgKindSchool {
		if parentID != nil {
			return fmt.Errorf("%w: a school cannot have a parent", models.ErrValidation)
		}
		return nil
	}
	if parentID == nil {
		return fmt.Errorf("%w: a department needs a parent school", models.ErrValidation)
	}
	p, ok := g.index[*parentID]
	if !ok {
		return fmt.Errorf("%w: parent organization %s", models.ErrNotFound, *parentID)
	}
	if g.nodes[p].org.Kind != models.OrgKindSchool {
		return fmt.Errorf("%w: a department's parent must be a school", models.ErrValidation)
	}
	return nil
}

// Len returns the number of organizations.
func (g *Graph) Len() int { return len(g.nodes) }

// Get returns the organization with the given id.
func (g *Graph) Get(id uuid.UUID) (models.Organization, bool) {
	i, ok := g.index[id]
	if !ok {
		return models.Organization{}, false
	}
	return g.nodes[i].org, true
}

// Has reports whether id is in the graph.
func (g *Graph) Has(id uuid.UUID) bool {
	_, ok := g.index[id]
	return ok
}

// Parent returns the parent school of a department.
func (g *Graph) Parent(id uuid.UUID) (models.Organization, bool) {
	i, ok := g.index[id]
	if !ok || g.nodes[i].parent == noParent {
		return models.Organization{}, false
	}
	return g.nodes[g.nodes[i].parent].org, true
}

// Children returns the ids of the departments under a school.
func (g *Graph) Children(id uuid.UUID) []uuid.UUID {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	out := make([]uuid.UUID, 0, len(g.nodes[i].children))
	for _, c := range g.nodes[i].children {
		out = append(out, g.nodes[c].org.ID)
	}
	return out
}

// SchoolOf returns the school an organization belongs to: itself for a
// school, its parent for a department.
func (g *Graph) SchoolOf(id uuid.UUID) (uuid.UUID, bool) {
	i, ok := g.index[id]
	if !ok {
		return uuid.Nil, false
	}
	if g.nodes[i].parent == noParent {
		return id, true
	}
	return g.nodes[g.nodes[i].parent].org.ID, true
}

// All returns every organization, schools first, in insertion order.
func (g *Graph) All() []models.Organization {
	out := make([]models.Organization, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n.org)
	}
	return out
}
