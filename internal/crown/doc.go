// Package crown owns the comfort estimation core.
//
// Responsibilities: critically-damped stress channels (μ channels), phase
// velocity tracking, the six Crown constraints with dynamic bottleneck
// weighting, comfort aggregation, and the confidence gate that can veto the
// comfort signal under sensor, timing or thermal anomalies.
// Key types: Engine, Inputs, Output, Config.
//
// The package performs no I/O. Acquisition of hardware and tracking signals,
// persistence and presentation live in other packages and talk to the engine
// only through Inputs and Output values, one Tick at a time.
package crown
