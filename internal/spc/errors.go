package spc

import "errors"

// Sentinel errors returned by the engine. All are recoverable conditions
// for the caller to surface; none are silently defaulted into values.
var (
	// ErrEmptySample indicates a sample with zero usable measurements was
	// passed to ComputeSubgroupStat.
	ErrEmptySample = errors.New("sample has no usable measurements")

	// ErrInvalidSubgroupSize indicates a constant lookup for a subgroup
	// size below 2, where the range and stddev chart constants are
	// undefined.
	ErrInvalidSubgroupSize = errors.New("subgroup size below tabulated range")

	// ErrInsufficientHistory indicates fewer than two usable subgroups
	// were available for control-limit estimation.
	ErrInsufficientHistory = errors.New("not enough subgroups to estimate control limits")

	// ErrInvalidMode indicates an unrecognised subgroup mode value.
	ErrInvalidMode = errors.New("invalid subgroup mode")

	// ErrInsufficientData indicates fewer than two pooled measurements
	// were available for the overall sigma in a capability calculation.
	ErrInsufficientData = errors.New("not enough measurements for overall sigma")
)
