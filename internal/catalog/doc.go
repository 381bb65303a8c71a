// Package catalog persists the entities a project is made of: the project
// itself, its storyboard scenes, and the recurring characters and locations.
// Each entity carries an asset registry stored as a JSON column; the store
// implements the asset manager's persistence interface with per-key writes so
// concurrent updates to sibling asset keys never clobber each other.
package catalog
