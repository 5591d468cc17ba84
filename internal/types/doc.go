// Package types is intentionally light on behavior: it holds the shapes
// that cross package boundaries (store <-> statemachine <-> api <->
// scheduler) so none of those packages need to import each other just to
// agree on a struct layout.
package types
