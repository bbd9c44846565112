// Package face turns camera frames into fixed-size grayscale templates and
// compares them by mean squared pixel difference.
//
// Enrollment asks a [Detector] for face rectangles. Exactly one face must be
// present: the region is cropped, converted to 8-bit gray and scaled to an
// N×N template (N defaults to 100). Match computes the mean squared
// difference between two templates; lower is more similar and a probe passes
// when the distance is strictly below the configured threshold.
//
// The raw-pixel comparison is a reference policy, not a robust recognizer.
package face
