// Package staging decides how a unit's data reaches the execution side and
// renders the container invocation for it. In shared mode host paths are
// mounted in place; in transfer mode inputs are declared for copy to a
// canonical staging location and outputs for copy back. Either way the
// rendered argv only ever sees the template's canonical in-container paths.
package staging
