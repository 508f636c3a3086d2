// Package scheduler defines the narrow boundary to the external execution
// framework. The engine only ever submits a task description and polls for a
// terminal result; where and how the task actually runs is the framework's
// concern. Concrete implementations live in the localexec and gridlink
// subpackages.
package scheduler
