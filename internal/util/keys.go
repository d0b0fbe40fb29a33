package util

import "strings"

// SnapshotKey returns the storage key of the single snapshot slot of a namespace.
// Blank namespaces fall back to "default" so keys never contain "::".
func SnapshotKey(prefix, ns string) string {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		ns = "default"
	}
	return prefix + ":" + ns + ":snapshot"
}
