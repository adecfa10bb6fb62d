package group

import (
	"time"

	"github.com/cuemby/stride/pkg/pathid"
	"github.com/cuemby/stride/pkg/spec"
)

// opKind discriminates the update operations.
type opKind int

const (
	opPutApp opKind = iota
	opPutPod
	opPutGroup
	opRemoveApp
	opRemovePod
	opRemoveGroup
	opSetEnforceRole
)

// Operation is one element of an atomic root-group update.
type Operation struct {
	kind       opKind
	app        *spec.AppDefinition
	pod        *spec.PodDefinition
	group      *Group
	target     pathid.PathID
	enforce    bool
	relativeTo pathid.PathID
}

// PutApp creates or replaces an app.
func PutApp(app *spec.AppDefinition) Operation {
	return Operation{kind: opPutApp, app: app}
}

// PutPod creates or replaces a pod.
func PutPod(pod *spec.PodDefinition) Operation {
	return Operation{kind: opPutPod, pod: pod}
}

// PutGroup creates or replaces a whole sub-tree.
func PutGroup(g *Group) Operation {
	return Operation{kind: opPutGroup, group: g}
}

// RemoveApp deletes the app at id.
func RemoveApp(id pathid.PathID) Operation {
	return Operation{kind: opRemoveApp, target: id}
}

// RemovePod deletes the pod at id.
func RemovePod(id pathid.PathID) Operation {
	return Operation{kind: opRemovePod, target: id}
}

// RemoveGroup deletes the group at id and everything beneath it.
func RemoveGroup(id pathid.PathID) Operation {
	return Operation{kind: opRemoveGroup, target: id}
}

// SetEnforceRole toggles role enforcement on the group at id.
func SetEnforceRole(id pathid.PathID, enforce bool) Operation {
	return Operation{kind: opSetEnforceRole, target: id, enforce: enforce}
}

// Within resolves the operation's relative ids against base. An update
// targeting a group resolves run-spec ids relative to that group's path, so
// "a" inside an update of /parent names /parent/a, never /a.
func (o Operation) Within(base pathid.PathID) Operation {
	o.relativeTo = base
	return o
}

func (o Operation) resolvedTarget() pathid.PathID {
	base := o.relativeTo
	if !base.IsAbsolute() {
		base = pathid.Root
	}
	switch o.kind {
	case opPutApp:
		return o.app.AppID.Resolve(base)
	case opPutPod:
		return o.pod.PodID.Resolve(base)
	case opPutGroup:
		return o.group.GroupID.Resolve(base)
	default:
		return o.target.Resolve(base)
	}
}

// UpdateMany applies the operations in order and returns a new validated
// root stamped with version. On any error the receiver is unchanged.
func (r *RootGroup) UpdateMany(version time.Time, ops ...Operation) (*RootGroup, error) {
	var toggled []pathid.PathID
	var changedSpecs []pathid.PathID

	root := r.root
	for _, op := range ops {
		target := op.resolvedTarget()
		var err error
		switch op.kind {
		case opPutApp:
			app := op.app
			if !app.AppID.Equal(target) {
				c := *app
				c.AppID = target
				app = &c
			}
			root, err = putApp(root, app, version)
			changedSpecs = append(changedSpecs, target)
		case opPutPod:
			pod := op.pod
			if !pod.PodID.Equal(target) {
				c := *pod
				c.PodID = target
				pod = &c
			}
			root, err = putPod(root, pod, version)
			changedSpecs = append(changedSpecs, target)
		case opPutGroup:
			g := op.group
			if !g.GroupID.Equal(target) {
				c := g.shallowCopy()
				c.GroupID = target
				g = c
			}
			root, err = putGroup(root, g, version)
			for _, id := range FromGroup(g).RunSpecIDs() {
				changedSpecs = append(changedSpecs, id)
			}
		case opRemoveApp:
			root, err = removeApp(root, target, version)
			changedSpecs = append(changedSpecs, target)
		case opRemovePod:
			root, err = removePod(root, target, version)
			changedSpecs = append(changedSpecs, target)
		case opRemoveGroup:
			root, err = removeGroup(root, target, version)
		case opSetEnforceRole:
			root, err = setEnforceRole(root, target, op.enforce, version)
			toggled = append(toggled, target)
		}
		if err != nil {
			return nil, err
		}
	}

	// An enforce-role toggle combined with run-spec changes under the same
	// group would make the intended role ambiguous.
	for _, groupID := range toggled {
		for _, specID := range changedSpecs {
			if groupID.IsPrefixOf(specID) {
				return nil, &ValidationError{
					ID:     groupID,
					Reason: "cannot change enforceRole and run-specs under it in the same update",
				}
			}
		}
	}

	root, err := applyRoleEnforcement(root)
	if err != nil {
		return nil, err
	}

	updated := &RootGroup{root: root}
	if updated.DependencyGraph().HasCycle() {
		return nil, &ValidationError{ID: pathid.Root, Reason: "dependency graph has a cycle"}
	}
	return updated, nil
}

// PutApp is the single-operation form of UpdateMany.
func (r *RootGroup) PutApp(app *spec.AppDefinition, version time.Time) (*RootGroup, error) {
	return r.UpdateMany(version, PutApp(app))
}

// PutPod is the single-operation form of UpdateMany.
func (r *RootGroup) PutPod(pod *spec.PodDefinition, version time.Time) (*RootGroup, error) {
	return r.UpdateMany(version, PutPod(pod))
}

// PutGroup is the single-operation form of UpdateMany.
func (r *RootGroup) PutGroup(g *Group, version time.Time) (*RootGroup, error) {
	return r.UpdateMany(version, PutGroup(g))
}

// RemoveApp is the single-operation form of UpdateMany.
func (r *RootGroup) RemoveApp(id pathid.PathID, version time.Time) (*RootGroup, error) {
	return r.UpdateMany(version, RemoveApp(id))
}

// RemovePod is the single-operation form of UpdateMany.
func (r *RootGroup) RemovePod(id pathid.PathID, version time.Time) (*RootGroup, error) {
	return r.UpdateMany(version, RemovePod(id))
}

// RemoveGroup is the single-operation form of UpdateMany.
func (r *RootGroup) RemoveGroup(id pathid.PathID, version time.Time) (*RootGroup, error) {
	return r.UpdateMany(version, RemoveGroup(id))
}

// SetEnforceRole is the single-operation form of UpdateMany.
func (r *RootGroup) SetEnforceRole(id pathid.PathID, enforce bool, version time.Time) (*RootGroup, error) {
	return r.UpdateMany(version, SetEnforceRole(id, enforce))
}
