package assets

import "fmt"

// VersionNotFoundError reports a reference to a version number absent from an
// entity's history. It indicates a programming or data error and is never
// retried.
type VersionNotFoundError struct {
	Entity   EntityRef
	AssetKey string
	Version  int
}

func (e *VersionNotFoundError) Error() string {
	return fmt.Sprintf("asset version %d not found for %s %s key %q", e.Version, e.Entity.Kind, e.Entity.ID, e.AssetKey)
}
