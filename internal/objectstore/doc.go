// Package objectstore stores pipeline artifacts under bucket-style paths.
// The filesystem implementation keeps the same URI discipline a remote bucket
// would: descriptors map to stable object paths, and URL normalization is
// idempotent.
package objectstore
