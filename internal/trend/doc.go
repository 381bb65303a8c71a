// Package trend fits simple linear regressions over attempt histories so the
// pipeline can estimate how much generation effort remains for a project.
package trend
