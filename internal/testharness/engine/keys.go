package engine

// Infrastructure keys used internally by the engine.
const (
	InternalStepOutput = "__step_output"
)

// Step parameter names the engine reads to size step timeouts.
const (
	ParamDurationMS       = "duration_ms"
	ParamIntervals        = "intervals"
	ParamWindowMS         = "window_ms"
	ParamWindowIntervals  = "window_intervals"
	ParamCount            = "count"
	ParamSpacingIntervals = "spacing_intervals"
)

// State keys set by runner handlers and read by the checkers below.
const (
	KeyIntervalMS      = "interval_ms"
	KeyToleranceMS     = "tolerance_ms"
	KeyOutcomes        = "outcomes"
	KeyDataCount       = "data_count"
	KeyWouldBlockCount = "would_block_count"
	KeyGapsMS          = "gaps_ms"
	KeyElapsedMS       = "elapsed_ms"
	KeyError           = "error"
)

// Checker registration names -- the string values that appear in YAML test
// files and are used as map keys in Engine.checkers.
const (
	CheckerNameDefault                 = "default"
	CheckerNameNoError                 = "no_error"
	CheckerNameOutcomesMatch           = "outcomes_match"
	CheckerNameDataCountMax            = "data_count_max"
	CheckerNameDataCountMin            = "data_count_min"
	CheckerNameWouldBlockCountMin      = "would_block_count_min"
	CheckerNameGapsAtLeastIntervals    = "gaps_at_least_intervals"
	CheckerNameElapsedAtLeastIntervals = "elapsed_at_least_intervals"
	CheckerNameElapsedUnderIntervals   = "elapsed_under_intervals"
	CheckerNameErrorMessageContains    = "error_message_contains"
)
