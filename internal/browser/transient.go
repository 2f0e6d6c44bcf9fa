// File: internal/browser/transient.go
package browser

import "strings"

// Messages Chrome emits when a navigation tears down the document an
// in-flight operation was bound to. Such failures are retryable once the new
// document settles.
var contextDestroyedMarkers = []string{
	"Cannot find context with specified id",
	"Execution context was destroyed",
	"inspected target navigated or closed",
}

// IsContextDestroyed reports whether err is a CDP failure caused by the
// execution context disappearing mid-operation, typically because the action
// itself triggered a navigation.
func IsContextDestroyed(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range contextDestroyedMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
