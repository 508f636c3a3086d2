// Package manifest loads data-driven task templates from HCL files. A
// template describes one containerized analysis app: its image, argument
// list, canonical in-container mount points, supported staging modes and
// resource defaults. Selecting a template per invocation replaces the old
// one-subclass-per-tool pattern.
package manifest
