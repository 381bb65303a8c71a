// Package logging builds the slog loggers used across sceneflow and defines
// the standardized field vocabulary for correlating log lines with projects,
// pipeline nodes, and jobs. Correlation attributes are always derived from an
// explicit context argument via WithContext.
package logging
