// Package discover enumerates the units of work contained in an input root.
// A unit is one subject directory, one size-bounded file group, or the whole
// dataset, depending on the strategy selected for the run.
package discover
