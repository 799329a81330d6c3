package scoring

import "errors"

var (
	ErrInvalidWeight              = errors.New("invalid weight")
	ErrWeightSumInvariantViolated = errors.New("weight sum invariant violated")
	ErrIncompleteMappingTable     = errors.New("incomplete rpe mapping table")
	ErrInvalidRPEValue            = errors.New("invalid rpe value")
	ErrInvalidMeasurement         = errors.New("invalid bfr measurement")
)
