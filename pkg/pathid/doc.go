// Package pathid implements the hierarchical identifiers used for groups,
// apps and pods. Paths are slash-separated, absolute or relative, and can be
// encoded into a "safe" form that embeds into opaque strings such as instance
// ids and persistence keys.
package pathid
