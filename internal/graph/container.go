package graph

import "fmt"

// ContainerID identifies a mutable collection shared by any number of
// aliases. Aliases share the id; each read observes whichever version is
// current at the read's program point.
type ContainerID string

// ContainerVersion is one link in a container's immutable version chain.
// A write produces a new version depending on the prior version and the
// written value, so provenance through mutation stays append-only.
type ContainerVersion struct {
	Container ContainerID `json:"container"`
	Number    int         `json:"number"`
	Node      ValueID     `json:"node"`    // graph value representing this version
	Written   ValueID     `json:"written"` // the value written at this version
	Prior     ValueID     `json:"prior"`   // prior version's node, NoValue for the first
}

type container struct {
	versions []ContainerVersion
}

// WriteContainer appends a new version to the container's chain. The
// version node depends on the written value and on the prior version,
// plus any extra edges (strict-mode control context).
func (g *Graph) WriteContainer(cid ContainerID, written ValueID, extra []Edge) (ContainerVersion, error) {
	if _, err := g.node(written); err != nil {
		return ContainerVersion{}, err
	}
	c := g.containers[cid]
	if c == nil {
		c = &container{}
		g.containers[cid] = c
	}

	parents := []Edge{{Parent: written, Role: RoleData}}
	prior := NoValue
	if n := len(c.versions); n > 0 {
		prior = c.versions[n-1].Node
		parents = append(parents, Edge{Parent: prior, Role: RoleData})
	}
	parents = append(parents, extra...)

	node, err := g.Record("container.write", nil, parents)
	if err != nil {
		return ContainerVersion{}, err
	}
	v := ContainerVersion{
		Container: cid,
		Number:    len(c.versions) + 1,
		Node:      node,
		Written:   written,
		Prior:     prior,
	}
	c.versions = append(c.versions, v)
	return v, nil
}

// ReadContainer mints a value for the result of reading the container at
// its current version. The read depends on the version node visible now,
// never a future one, so provenance through either alias converges on the
// latest write.
func (g *Graph) ReadContainer(cid ContainerID) (ValueID, ContainerVersion, error) {
	c := g.containers[cid]
	if c == nil || len(c.versions) == 0 {
		return NoValue, ContainerVersion{}, fmt.Errorf("graph: read of unwritten container %q", cid)
	}
	v := c.versions[len(c.versions)-1]
	id, err := g.Record("container.read", nil, []Edge{{Parent: v.Node, Role: RoleData}})
	if err != nil {
		return NoValue, ContainerVersion{}, err
	}
	return id, v, nil
}

// ContainerVersions returns the full version chain of a container.
func (g *Graph) ContainerVersions(cid ContainerID) []ContainerVersion {
	c := g.containers[cid]
	if c == nil {
		return nil
	}
	return append([]ContainerVersion(nil), c.versions...)
}
