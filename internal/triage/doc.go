// Package triage provides the business boundary for symptom triage.
// It defines the pure pipeline pieces (Scan, Match, Compose), the Engine
// that sequences them with fault recovery, the per-conversation Session
// state machine, and the Service that owns session lifecycle and async
// dispatch over a Store.
package triage
