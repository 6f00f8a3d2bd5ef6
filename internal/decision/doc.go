// Package decision contains the per-cycle decision core: the snapshot and
// decision data model, the deterministic rule ladder, the inference-backed
// source with its silent rule fallback, and the safety validator that clamps
// every proposal against the hard spend invariants before execution.
package decision
