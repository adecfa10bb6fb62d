package group

import (
	"time"

	"github.com/cuemby/stride/pkg/pathid"
	"github.com/cuemby/stride/pkg/spec"
)

// mutateAt applies fn to a copy of the group at path, copying every node on
// the way down and creating missing intermediate groups when create is true.
func mutateAt(root *Group, path pathid.PathID, version time.Time, create bool, fn func(*Group) error) (*Group, error) {
	return mutate(root, path.Segments(), version, create, fn)
}

func mutate(g *Group, segments []string, version time.Time, create bool, fn func(*Group) error) (*Group, error) {
	c := g.shallowCopy()
	c.Version = version

	if len(segments) == 0 {
		if err := fn(c); err != nil {
			return nil, err
		}
		return c, nil
	}

	childID := g.GroupID.Append(segments[0])
	key := childID.String()
	child, ok := g.Groups[key]
	if !ok {
		if !create {
			return nil, &ValidationError{ID: childID, Reason: "no such group"}
		}
		if _, exists := g.Apps[key]; exists {
			return nil, &ConflictError{ID: childID, Reason: "an app with this id exists"}
		}
		if _, exists := g.Pods[key]; exists {
			return nil, &ConflictError{ID: childID, Reason: "a pod with this id exists"}
		}
		child = NewGroup(childID, version)
	}

	newChild, err := mutate(child, segments[1:], version, create, fn)
	if err != nil {
		return nil, err
	}
	c.Groups[key] = newChild
	return c, nil
}

func putApp(root *Group, app *spec.AppDefinition, version time.Time) (*Group, error) {
	id := app.AppID
	if !id.IsAbsolute() || id.IsEmpty() {
		return nil, &ValidationError{ID: id, Reason: "app id must be an absolute non-root path"}
	}
	stamped := *app
	stamped.SpecVersion = versionInfoFor(app.SpecVersion, version)
	key := id.String()
	return mutateAt(root, id.Parent(), version, true, func(g *Group) error {
		if _, exists := g.Groups[key]; exists {
			return &ConflictError{ID: id, Reason: "a group with this id exists"}
		}
		if _, exists := g.Pods[key]; exists {
			return &ConflictError{ID: id, Reason: "a pod with this id exists"}
		}
		g.Apps[key] = &stamped
		return nil
	})
}

func putPod(root *Group, pod *spec.PodDefinition, version time.Time) (*Group, error) {
	id := pod.PodID
	if !id.IsAbsolute() || id.IsEmpty() {
		return nil, &ValidationError{ID: id, Reason: "pod id must be an absolute non-root path"}
	}
	stamped := *pod
	stamped.SpecVersion = versionInfoFor(pod.SpecVersion, version)
	key := id.String()
	return mutateAt(root, id.Parent(), version, true, func(g *Group) error {
		if _, exists := g.Groups[key]; exists {
			return &ConflictError{ID: id, Reason: "a group with this id exists"}
		}
		if _, exists := g.Apps[key]; exists {
			return &ConflictError{ID: id, Reason: "an app with this id exists"}
		}
		g.Pods[key] = &stamped
		return nil
	})
}

func putGroup(root *Group, sub *Group, version time.Time) (*Group, error) {
	id := sub.GroupID
	if !id.IsAbsolute() || id.IsEmpty() {
		return nil, &ValidationError{ID: id, Reason: "group id must be an absolute non-root path"}
	}
	key := id.String()
	return mutateAt(root, id.Parent(), version, true, func(g *Group) error {
		if _, exists := g.Apps[key]; exists {
			return &ConflictError{ID: id, Reason: "an app with this id exists"}
		}
		if _, exists := g.Pods[key]; exists {
			return &ConflictError{ID: id, Reason: "a pod with this id exists"}
		}
		g.Groups[key] = sub
		return nil
	})
}

func removeApp(root *Group, id pathid.PathID, version time.Time) (*Group, error) {
	key := id.String()
	return mutateAt(root, id.Parent(), version, false, func(g *Group) error {
		if _, exists := g.Apps[key]; !exists {
			return &ValidationError{ID: id, Reason: "no such app"}
		}
		delete(g.Apps, key)
		return nil
	})
}

func removePod(root *Group, id pathid.PathID, version time.Time) (*Group, error) {
	key := id.String()
	return mutateAt(root, id.Parent(), version, false, func(g *Group) error {
		if _, exists := g.Pods[key]; !exists {
			return &ValidationError{ID: id, Reason: "no such pod"}
		}
		delete(g.Pods, key)
		return nil
	})
}

func removeGroup(root *Group, id pathid.PathID, version time.Time) (*Group, error) {
	if id.IsRoot() {
		return NewGroup(pathid.Root, version), nil
	}
	key := id.String()
	return mutateAt(root, id.Parent(), version, false, func(g *Group) error {
		if _, exists := g.Groups[key]; !exists {
			return &ValidationError{ID: id, Reason: "no such group"}
		}
		delete(g.Groups, key)
		return nil
	})
}

func setEnforceRole(root *Group, id pathid.PathID, enforce bool, version time.Time) (*Group, error) {
	if !id.IsChildOf(pathid.Root) {
		return nil, &ValidationError{ID: id, Reason: "enforceRole can only be set on top-level groups"}
	}
	return mutateAt(root, id, version, false, func(g *Group) error {
		g.EnforceRole = enforce
		return nil
	})
}

// versionInfoFor stamps a spec stored in an update: new specs get a fresh
// version, already-stamped specs keep the caller's info.
func versionInfoFor(existing spec.VersionInfo, version time.Time) spec.VersionInfo {
	if existing.IsZero() {
		return spec.NewVersionInfo(version)
	}
	return existing
}

// applyRoleEnforcement assigns group roles to run-specs beneath enforcing
// groups and rejects explicit roles that contradict them. The nearest
// enforcing ancestor wins.
func applyRoleEnforcement(root *Group) (*Group, error) {
	var visit func(g *Group, role string) (*Group, error)
	visit = func(g *Group, role string) (*Group, error) {
		c := g.shallowCopy()
		if role != "" {
			for key, app := range c.Apps {
				switch app.ResourceRole {
				case "":
					c.Apps[key] = app.WithRole(role).(*spec.AppDefinition)
				case role:
				default:
					return nil, &ValidationError{
						ID:     app.AppID,
						Reason: "role \"" + app.ResourceRole + "\" conflicts with enforced group role \"" + role + "\"",
					}
				}
			}
			for key, pod := range c.Pods {
				switch pod.ResourceRole {
				case "":
					c.Pods[key] = pod.WithRole(role).(*spec.PodDefinition)
				case role:
				default:
					return nil, &ValidationError{
						ID:     pod.PodID,
						Reason: "role \"" + pod.ResourceRole + "\" conflicts with enforced group role \"" + role + "\"",
					}
				}
			}
		}
		for key, child := range c.Groups {
			childRole := role
			if child.EnforceRole {
				childRole = child.GroupID.Base()
			}
			updated, err := visit(child, childRole)
			if err != nil {
				return nil, err
			}
			c.Groups[key] = updated
		}
		return c, nil
	}
	return visit(root, "")
}
