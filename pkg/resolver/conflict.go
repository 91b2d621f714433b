package resolver

import "github.com/openfroyo/crateplan/pkg/core"

// requirement is a dependency that gets processed, in at least the build
// contexts ctx, in any state where parent is active and requests it.
type requirement struct {
	parent core.PackageId
	dep    core.Dependency
	ctx    buildContext
}

// conflict is what a failure depends on. Every state in which the packages
// of active are activated, the links claims are held and the requirements
// are requested fails the same way, whatever else is chosen. An opaque
// conflict cannot be pinned to such facts and matches no state.
type conflict struct {
	opaque   bool
	active   map[core.PackageId]bool
	links    map[linksKey]core.PackageId
	required []requirement
}

// conflictOf explains the rejection of every candidate of item.
func conflictOf(item pendingDep, reasons []conflictReason) conflict {
	var c conflict
	req := requirement{parent: item.parent, dep: item.dep}
	for _, reason := range reasons {
		switch reason.kind {
		case reasonActivated:
			c.addActive(reason.holder)
		case reasonLinks:
			if reason.merged {
				c.opaque = true
				continue
			}
			c.addLinks(linksKey{links: reason.links, ctx: reason.ctx}, reason.holder)
			req.ctx |= reason.ctx
		default:
			// Feature requests grow with later choices.
			c.opaque = true
		}
	}
	c.addRequired(req)
	return c
}

func (c *conflict) addActive(id core.PackageId) {
	if c.active == nil {
		c.active = make(map[core.PackageId]bool)
	}
	c.active[id] = true
}

func (c *conflict) addLinks(k linksKey, holder core.PackageId) {
	if c.links == nil {
		c.links = make(map[linksKey]core.PackageId)
	}
	if prev, ok := c.links[k]; ok && prev != holder {
		c.opaque = true
		return
	}
	c.links[k] = holder
}

func (c *conflict) addRequired(req requirement) {
	for i := range c.required {
		if c.required[i].parent == req.parent && sameDeclaration(c.required[i].dep, req.dep) {
			c.required[i].ctx |= req.ctx
			return
		}
	}
	c.required = append(c.required, req)
}

func union(a, b conflict) conflict {
	if a.opaque || b.opaque {
		return conflict{opaque: true}
	}
	var out conflict
	for _, c := range []conflict{a, b} {
		for id := range c.active {
			out.addActive(id)
		}
		for k, holder := range c.links {
			out.addLinks(k, holder)
		}
		for _, req := range c.required {
			out.addRequired(req)
		}
	}
	return out
}

func (c conflict) mentions(id core.PackageId) bool {
	if c.active[id] {
		return true
	}
	for _, holder := range c.links {
		if holder == id {
			return true
		}
	}
	for _, req := range c.required {
		if req.parent == id {
			return true
		}
	}
	return false
}

// lift restates c for the states before cp: facts about the package cp
// chose become the requirement it was chosen for. Facts that do not follow
// from that requirement make the result opaque.
func (c conflict) lift(cp *checkpoint) conflict {
	if c.opaque || !c.mentions(cp.chosen) {
		return c
	}
	var out conflict
	for id := range c.active {
		if id != cp.chosen {
			out.addActive(id)
		}
	}
	for k, holder := range c.links {
		if holder == cp.chosen {
			return conflict{opaque: true}
		}
		out.addLinks(k, holder)
	}
	for _, req := range c.required {
		if req.parent != cp.chosen {
			out.addRequired(req)
			continue
		}
		if req.dep.Optional || req.ctx != 0 {
			return conflict{opaque: true}
		}
	}
	out.addRequired(requirement{parent: cp.item.parent, dep: cp.item.dep})
	return out
}

// holds reports whether st already contains every fact of c, so that no
// choice made from st can avoid it.
func (r *run) holds(c conflict, st *state) bool {
	if c.opaque {
		return false
	}
	for id := range c.active {
		if _, ok := st.ids[id]; !ok {
			return false
		}
	}
	for k, holder := range c.links {
		if st.links[k] != holder {
			return false
		}
	}
	for _, req := range c.required {
		act := st.activationOf(req.parent)
		if act == nil || !r.wants(req.parent, act, req.dep) {
			return false
		}
		if depContext(act, req.dep)&req.ctx != req.ctx {
			return false
		}
	}
	return true
}
