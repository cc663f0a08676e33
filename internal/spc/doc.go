// Package spc implements the control-chart statistical engine: subgroup
// statistics, control-limit estimation, sigma-zone classification, the
// eight Nelson out-of-control rules, and process capability indices.
//
// The package is a pure function library. It holds no state, performs no
// I/O, and never fetches data for itself: callers pass in an ordered,
// already-filtered history of subgroups together with the characteristic's
// configuration, and every call recomputes results from scratch. All SPC
// formulas in the repository live here; storage and presentation layers
// call in rather than re-deriving any of the math.
//
// The usual flow is one way:
//
//	samples -> ComputeSubgroupStat -> EstimateLimits -> BuildPoints -> Evaluate
//
// with ComputeCapability consuming subgroup statistics and an existing
// limit estimate independently of the rule pipeline.
package spc
