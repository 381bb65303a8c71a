// Package generation defines the provider interface the pipeline nodes call
// for text, image, and video generation, plus an HTTP client implementation
// with transient-failure retry and capped exponential backoff.
package generation
