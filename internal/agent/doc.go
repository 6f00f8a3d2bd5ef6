// Package agent hosts the per-agent orchestration loop and the action
// executor. Each orchestrator owns exactly one wallet and runs its cycles
// strictly serialized: snapshot, decide, validate, execute, publish. The
// supervisor wires a fleet of orchestrators together and manages their
// shared lifecycle.
package agent
