package pathid

import (
	"fmt"
	"regexp"
	"strings"
)

// SafeSeparator replaces "/" in the safe encoding of a path. It can never
// appear inside a segment, so the encoding is reversible.
const SafeSeparator = "_"

var segmentRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// PathID is a hierarchical identifier, absolute or relative.
// The zero value is the relative empty path; use Root for "/".
type PathID struct {
	segments []string
	absolute bool
}

// Root is the absolute empty path "/".
var Root = PathID{absolute: true}

// NewPath creates an absolute path from segments without validation.
func NewPath(segments ...string) PathID {
	return PathID{segments: append([]string(nil), segments...), absolute: true}
}

// ParsePath parses a slash-separated path. A leading slash makes the path
// absolute. Segments may not contain "." or "/" and must match
// [a-z0-9]([a-z0-9-]*[a-z0-9])?.
func ParsePath(s string) (PathID, error) {
	absolute := strings.HasPrefix(s, "/")
	trimmed := strings.Trim(s, "/")

	if trimmed == "" {
		return PathID{absolute: absolute}, nil
	}

	segments := strings.Split(trimmed, "/")
	for _, seg := range segments {
		if !segmentRe.MatchString(seg) {
			return PathID{}, fmt.Errorf("invalid path segment %q in %q", seg, s)
		}
	}

	return PathID{segments: segments, absolute: absolute}, nil
}

// MustParse parses a path and panics on error. For tests and constants.
func MustParse(s string) PathID {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// ParseSafe decodes a safe-encoded absolute path (SafeSeparator instead of
// slashes), the form used inside instance ids and persistence keys.
func ParseSafe(s string) (PathID, error) {
	if s == "" {
		return Root, nil
	}
	return ParsePath("/" + strings.ReplaceAll(s, SafeSeparator, "/"))
}

// String returns the canonical form: "/a/b" for absolute paths, "a/b" for
// relative ones, "/" for the absolute root.
func (p PathID) String() string {
	joined := strings.Join(p.segments, "/")
	if p.absolute {
		return "/" + joined
	}
	return joined
}

// Safe returns the safe encoding: segments joined by SafeSeparator. The
// leading slash of absolute paths is dropped; the root encodes to "".
func (p PathID) Safe() string {
	return strings.Join(p.segments, SafeSeparator)
}

// IsAbsolute reports whether the path is anchored at the root.
func (p PathID) IsAbsolute() bool {
	return p.absolute
}

// IsRoot reports whether the path is the absolute root "/".
func (p PathID) IsRoot() bool {
	return p.absolute && len(p.segments) == 0
}

// IsEmpty reports whether the path has no segments.
func (p PathID) IsEmpty() bool {
	return len(p.segments) == 0
}

// Segments returns a copy of the path segments.
func (p PathID) Segments() []string {
	return append([]string(nil), p.segments...)
}

// Depth returns the number of segments.
func (p PathID) Depth() int {
	return len(p.segments)
}

// Base returns the last segment, or "" for empty paths.
func (p PathID) Base() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the path with the last segment removed. The parent of an
// empty path is the path itself.
func (p PathID) Parent() PathID {
	if len(p.segments) == 0 {
		return p
	}
	return PathID{segments: append([]string(nil), p.segments[:len(p.segments)-1]...), absolute: p.absolute}
}

// Append returns the path extended by one segment.
func (p PathID) Append(segment string) PathID {
	segments := make([]string, 0, len(p.segments)+1)
	segments = append(segments, p.segments...)
	segments = append(segments, segment)
	return PathID{segments: segments, absolute: p.absolute}
}

// Join concatenates other onto p. If other is absolute it is returned as is.
func (p PathID) Join(other PathID) PathID {
	if other.absolute {
		return other
	}
	segments := make([]string, 0, len(p.segments)+len(other.segments))
	segments = append(segments, p.segments...)
	segments = append(segments, other.segments...)
	return PathID{segments: segments, absolute: p.absolute}
}

// Resolve makes the path absolute against base. Absolute paths resolve to
// themselves regardless of base.
func (p PathID) Resolve(base PathID) PathID {
	if p.absolute {
		return p
	}
	return base.Join(p)
}

// Equal reports segment-wise equality including absoluteness.
func (p PathID) Equal(other PathID) bool {
	if p.absolute != other.absolute || len(p.segments) != len(other.segments) {
		return false
	}
	for i, seg := range p.segments {
		if other.segments[i] != seg {
			return false
		}
	}
	return true
}

// Less orders paths lexicographically on their canonical form.
func (p PathID) Less(other PathID) bool {
	return p.String() < other.String()
}

// IsChildOf reports whether p is a direct child of parent.
func (p PathID) IsChildOf(parent PathID) bool {
	return len(p.segments) == len(parent.segments)+1 && parent.IsPrefixOf(p)
}

// IsPrefixOf reports whether every segment of p prefixes other.
func (p PathID) IsPrefixOf(other PathID) bool {
	if p.absolute != other.absolute || len(p.segments) > len(other.segments) {
		return false
	}
	for i, seg := range p.segments {
		if other.segments[i] != seg {
			return false
		}
	}
	return true
}

// AllParents returns every proper ancestor of p, nearest first, ending with
// the root for absolute paths.
func (p PathID) AllParents() []PathID {
	var parents []PathID
	current := p
	for len(current.segments) > 0 {
		current = current.Parent()
		parents = append(parents, current)
	}
	return parents
}

// MarshalText implements encoding.TextMarshaler so paths serialize as their
// canonical string in JSON map keys and values.
func (p PathID) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PathID) UnmarshalText(text []byte) error {
	parsed, err := ParsePath(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
