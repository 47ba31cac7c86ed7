package runner

// Action names used in scenario files.
const (
	ActionOpen        = "open"
	ActionClose       = "close"
	ActionControl     = "control"
	ActionSetBlocking = "set_blocking"
	ActionRead        = "read"
	ActionWait        = "wait"
	ActionProbeHang   = "probe_hang"
	ActionStatus      = "status"
)

// Step parameters. Timing parameters shared with the engine live in
// engine/keys.go.
const (
	ParamPath       = "path"
	ParamCommand    = "command"
	ParamValue      = "value"
	ParamEnabled    = "enabled"
	ParamSize       = "size"
	ParamSpacingMS  = "spacing_ms"
	ParamRelease    = "release"
	ParamAllowError = "allow_error"
)

// Output keys set by the handlers. Keys the checkers read (outcomes,
// data_count, gaps_ms, ...) are defined in engine/keys.go.
const (
	KeyOpened    = "opened"
	KeyClosed    = "closed"
	KeyHandleID  = "handle_id"
	KeyPath      = "path"
	KeyProducing = "producing"
	KeyMode      = "mode"
	KeyState     = "state"
	KeyWedged    = "wedged"
	KeyData      = "data"
	KeyHung      = "hung"
	KeyReleased  = "released"
	KeyWaitedMS  = "waited_ms"
	KeyErrorKind = "error_kind"
	KeyErrno     = "errno"
	KeyCategory  = "error_category"
	KeyRunID     = "run_id"
)

// ReleaseResume is the release action probe_hang accepts.
const ReleaseResume = "resume"
