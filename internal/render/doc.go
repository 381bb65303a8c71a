// Package render assembles accepted scene videos into the final deliverable
// using ffmpeg's concat demuxer.
package render
