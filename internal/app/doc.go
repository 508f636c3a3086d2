// Package app contains the core application logic. It wires discovery,
// staging, task building, the scheduler and the aggregator into one run,
// decoupled from any specific entrypoint like the CLI.
package app
