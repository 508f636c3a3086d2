// Package lifecycle tracks each unit through its execution state machine
//
//	Planned → Submitted → Running → {Succeeded | Escalating | PermanentlyFailed}
//
// with Escalating looping back to Submitted under a bounded memory-escalation
// retry policy. Terminal observations are idempotent per attempt: feeding the
// same result twice never escalates twice.
package lifecycle
