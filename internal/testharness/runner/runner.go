// Package runner executes the conformance scenarios against a kmod_fcntl
// device node or an in-process simulator of it.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kmodtest/kmodfcntl-go/internal/metrics"
	"github.com/kmodtest/kmodfcntl-go/internal/testharness/driver"
	"github.com/kmodtest/kmodfcntl-go/internal/testharness/engine"
	"github.com/kmodtest/kmodfcntl-go/internal/testharness/loader"
	"github.com/kmodtest/kmodfcntl-go/internal/testharness/mock"
	"github.com/kmodtest/kmodfcntl-go/internal/testharness/reporter"
	"github.com/kmodtest/kmodfcntl-go/internal/testharness/scenarios"
	"github.com/kmodtest/kmodfcntl-go/pkg/chardev"
	"github.com/kmodtest/kmodfcntl-go/pkg/log"
	"github.com/kmodtest/kmodfcntl-go/pkg/version"
)

// DefaultModule is the name the module is loaded under.
const DefaultModule = "kmodfcntl"

// Profile items the runner fills in when no profile file is given.
const (
	ProfileControl     = "control"
	ProfileIntervalMS  = "interval_ms"
	ProfileToleranceMS = "tolerance_ms"
)

// Runner executes test cases against a device.
type Runner struct {
	config       *Config
	engine       *engine.Engine
	engineConfig *engine.EngineConfig
	reporter     reporter.Reporter
	logger       *slog.Logger
	trace        log.Logger
	profile      *loader.Profile
	runID        string

	interval  time.Duration
	tolerance time.Duration

	// sim is the simulated device when Config.Simulate is set.
	sim *mock.Device

	// sess is the handle opened by the current test's open step.
	sess *session

	// paused records that the last control command accepted during the run
	// paused the producer.
	paused bool
}

type session struct {
	handle *chardev.Handle
	drv    *driver.Driver
}

// Config configures the runner.
type Config struct {
	// Device is the device node. Empty means chardev.DefaultPath.
	Device string
	// Module is the loaded module whose version is checked when the
	// profile names none.
	Module string

	// Simulate runs against an in-process simulator instead of Device.
	Simulate bool
	// SimInterval is the simulator's production interval.
	SimInterval time.Duration
	// SimPaused starts the simulator with production paused.
	SimPaused bool
	// SimNoControl makes the simulator reject the pause command.
	SimNoControl bool

	// Interval is the device's production interval. Zero takes it from the
	// profile, then from SimInterval when simulating, then
	// mock.DefaultInterval.
	Interval time.Duration
	// Tolerance is the timing slack of interval checks. Zero takes it from
	// the profile, then a tenth of Interval.
	Tolerance time.Duration

	// ProfileFile describes what the device supports. Empty derives a
	// profile from the other settings.
	ProfileFile string

	// ScenarioDir loads scenarios from a directory instead of the embedded
	// set.
	ScenarioDir string

	// Pattern filters tests by ID or name, comma-separated globs.
	Pattern string
	// Tags keeps tests with at least one of these comma-separated tags.
	Tags string
	// ExcludeTags drops tests with any of these comma-separated tags.
	ExcludeTags string

	// Timeout is the default per-test timeout.
	Timeout time.Duration
	// SuiteTimeout bounds the whole run. Zero derives it from the tests.
	SuiteTimeout time.Duration
	// StopOnFirstFailure stops after the first failed test.
	StopOnFirstFailure bool

	// OpenAttempts is how often open retries a missing device node.
	OpenAttempts int

	// RestoreProducing resumes the producer after the run if a scenario
	// left it paused.
	RestoreProducing bool

	// Verbose lists every step in the text report.
	Verbose bool
	// Output receives the report.
	Output io.Writer
	// OutputFormat is "text", "json" or "junit".
	OutputFormat string
	// Progress receives the driver's started/finished lines.
	Progress io.Writer

	// ProtocolLogger receives the device trace.
	ProtocolLogger log.Logger
	// Logger is the operational logger.
	Logger *slog.Logger
	// Metrics collects handle counters and read wait times.
	Metrics *metrics.Collector
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() *Config {
	return &Config{
		Device:           chardev.DefaultPath,
		Module:           DefaultModule,
		SimInterval:      mock.DefaultInterval,
		Timeout:          2 * time.Minute,
		OpenAttempts:     3,
		RestoreProducing: true,
		Output:           io.Discard,
		OutputFormat:     "text",
		Progress:         io.Discard,
	}
}

// New creates a runner. With Simulate set, the simulator is created but
// only starts producing in Run.
func New(config *Config) (*Runner, error) {
	if config.Device == "" {
		config.Device = chardev.DefaultPath
	}
	if config.Output == nil {
		config.Output = io.Discard
	}
	if config.Progress == nil {
		config.Progress = io.Discard
	}
	if config.OpenAttempts <= 0 {
		config.OpenAttempts = 1
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := &Runner{
		config: config,
		logger: logger,
		trace:  log.OrNoop(config.ProtocolLogger),
		runID:  uuid.NewString(),
	}

	if config.Simulate {
		if config.SimInterval <= 0 {
			config.SimInterval = mock.DefaultInterval
		}
		r.sim = mock.NewDevice(mock.DeviceConfig{
			Path:        config.Device,
			Interval:    config.SimInterval,
			StartPaused: config.SimPaused,
			NoControl:   config.SimNoControl,
			Logger:      logger,
		})
	}

	profile, err := r.loadProfile()
	if err != nil {
		return nil, err
	}
	r.profile = profile
	r.interval, r.tolerance = r.timing()
	r.checkModuleVersion()

	// Create engine with config
	engineConfig := engine.DefaultConfig()
	engineConfig.DefaultTimeout = config.Timeout
	engineConfig.SuiteTimeout = config.SuiteTimeout
	engineConfig.StopOnFirstFailure = config.StopOnFirstFailure
	engineConfig.Interval = r.interval
	engineConfig.StepTimeout = max(engineConfig.StepTimeout, 3*r.interval)
	engineConfig.Profile = profile
	engineConfig.SetupTest = r.setupTest
	engineConfig.TeardownTest = r.teardownTest

	r.engine = engine.NewWithConfig(engineConfig)
	r.engineConfig = engineConfig
	r.reporter = reporter.New(config.OutputFormat, config.Output, config.Verbose)

	// Stream each test result as it completes.
	engineConfig.OnTestComplete = func(result *engine.TestResult) {
		r.reporter.ReportTest(result)
	}

	engine.RegisterCheckers(r.engine)
	r.registerHandlers()

	return r, nil
}

// loadProfile reads Config.ProfileFile or builds a profile from the config.
func (r *Runner) loadProfile() (*loader.Profile, error) {
	if r.config.ProfileFile != "" {
		p, err := loader.LoadProfile(r.config.ProfileFile)
		if err != nil {
			return nil, fmt.Errorf("load profile: %w", err)
		}
		for _, verr := range loader.ValidateProfile(p) {
			if verr.Level == loader.ValidationLevelError {
				return nil, fmt.Errorf("profile %s: %w", p.Name, verr)
			}
			r.logger.Warn("profile warning", "profile", p.Name, "field", verr.Field, "message", verr.Message)
		}
		return p, nil
	}

	p := &loader.Profile{
		Name:   "default",
		Device: loader.ProfileDevice{Name: "kmod_fcntl", Path: r.config.Device},
		Items:  map[string]any{ProfileControl: true},
	}
	if r.sim != nil {
		p.Name = "simulator"
		p.Device.Version = version.Supported
		p.Items[ProfileControl] = !r.config.SimNoControl
	}
	return p, nil
}

// checkModuleVersion warns when the module under test is not a version the
// scenarios were written for.
func (r *Runner) checkModuleVersion() {
	v := r.profile.Device.Version
	if v == "" && r.sim == nil && r.config.Module != "" {
		mv, err := version.ReadModule(version.SysfsRoot, r.config.Module)
		if err != nil {
			r.logger.Debug("module version unavailable", "module", r.config.Module, "error", err)
			return
		}
		v = mv.String()
		r.profile.Device.Version = v
	}
	if v == "" {
		return
	}
	if err := version.CheckSupported(v); err != nil {
		r.logger.Warn("scenarios may not match this module", "version", v, "error", err)
	}
}

// timing resolves the production interval and tolerance used by the
// timing checks.
func (r *Runner) timing() (interval, tolerance time.Duration) {
	interval = r.config.Interval
	if interval <= 0 {
		if ms, ok := loader.GetInt(r.profile.Items, ProfileIntervalMS); ok && ms > 0 {
			interval = time.Duration(ms) * time.Millisecond
		} else if r.sim != nil {
			interval = r.config.SimInterval
		} else {
			interval = mock.DefaultInterval
		}
	}

	tolerance = r.config.Tolerance
	if tolerance <= 0 {
		if ms, ok := loader.GetInt(r.profile.Items, ProfileToleranceMS); ok && ms > 0 {
			tolerance = time.Duration(ms) * time.Millisecond
		} else {
			tolerance = interval / 10
		}
	}
	return interval, tolerance
}

// RunID identifies this run in logs and traces.
func (r *Runner) RunID() string { return r.runID }

// Simulator returns the simulated device, or nil.
func (r *Runner) Simulator() *mock.Device { return r.sim }

// Profile returns the device profile in effect.
func (r *Runner) Profile() *loader.Profile { return r.profile }

// Run executes all matching test cases and returns the suite result.
func (r *Runner) Run(ctx context.Context) (*engine.SuiteResult, error) {
	if r.sim != nil {
		if err := r.sim.Start(ctx); err != nil && !errors.Is(err, mock.ErrAlreadyStarted) {
			return nil, fmt.Errorf("start simulator: %w", err)
		}
	}

	cases, err := r.loadCases()
	if err != nil {
		return nil, fmt.Errorf("failed to load tests: %w", err)
	}

	cases = filterByPattern(cases, r.config.Pattern)
	cases = filterByTags(cases, r.config.Tags)
	cases = filterByExcludeTags(cases, r.config.ExcludeTags)
	if len(cases) == 0 {
		return nil, fmt.Errorf("no test cases found matching filters (pattern=%q, tags=%q, exclude-tags=%q)",
			r.config.Pattern, r.config.Tags, r.config.ExcludeTags)
	}

	r.logger.Info("running scenarios",
		"run", r.runID, "target", r.target(), "tests", len(cases),
		"interval", r.interval, "tolerance", r.tolerance, "profile", r.profile.Name)

	result := r.engine.RunSuite(ctx, cases)
	result.SuiteName = fmt.Sprintf("kmod_fcntl conformance (%s)", r.target())

	if r.paused && r.config.RestoreProducing && loader.CheckRequirements(r.profile, []string{ProfileControl}) {
		r.restoreProducing()
	}

	// Report summary only -- individual tests were already streamed via OnTestComplete.
	r.reporter.ReportSummary(result)

	return result, nil
}

func (r *Runner) loadCases() ([]*loader.TestCase, error) {
	var (
		cases []*loader.TestCase
		err   error
	)
	if r.config.ScenarioDir != "" {
		cases, err = loader.LoadDirectory(r.config.ScenarioDir)
	} else {
		cases, err = loader.LoadFS(scenarios.FS, ".")
	}
	if err != nil {
		return nil, err
	}
	if err := loader.CheckDuplicateIDs(cases); err != nil {
		return nil, err
	}
	return cases, nil
}

func (r *Runner) target() string {
	if r.sim != nil {
		return "simulator " + r.config.Device
	}
	return r.config.Device
}

// restoreProducing resumes the producer so the next run finds the device
// the way the module leaves it after loading.
func (r *Runner) restoreProducing() {
	h, err := chardev.Open(r.config.Device, r.handleOptions()...)
	if err != nil {
		r.logger.Warn("could not reopen device to resume production", "error", err)
		return
	}
	defer h.Close()

	if err := driver.New(h, r.driverOptions()...).Resume(); err != nil {
		r.logger.Warn("could not resume production", "error", err)
		return
	}
	r.paused = false
	r.logger.Info("production resumed after run")
}

func (r *Runner) handleOptions() []chardev.Option {
	opts := []chardev.Option{
		chardev.WithLogger(r.logger),
		chardev.WithTrace(r.trace),
	}
	if r.sim != nil {
		opts = append(opts, chardev.WithOpener(r.sim.Opener()))
	}
	if r.config.Metrics != nil {
		opts = append(opts, chardev.WithMetrics(r.config.Metrics.Handle))
	}
	return opts
}

func (r *Runner) driverOptions() []driver.Option {
	opts := []driver.Option{
		driver.WithOutput(r.config.Progress),
		driver.WithLogger(r.logger),
		driver.WithTrace(r.trace),
	}
	if r.config.Metrics != nil {
		opts = append(opts, driver.WithWaitObserver(r.config.Metrics.ReadWait))
	}
	return opts
}

// setupTest seeds the timing keys the checkers read.
func (r *Runner) setupTest(ctx context.Context, tc *loader.TestCase, state *engine.ExecutionState) error {
	r.sess = nil
	state.Set(engine.KeyIntervalMS, float64(r.interval)/float64(time.Millisecond))
	state.Set(engine.KeyToleranceMS, float64(r.tolerance)/float64(time.Millisecond))
	state.Set(KeyRunID, r.runID)
	r.logger.Debug("test started", "test", tc.ID)
	return nil
}

// teardownTest closes the handle the test left open.
func (r *Runner) teardownTest(ctx context.Context, tc *loader.TestCase, state *engine.ExecutionState) {
	sess := r.sess
	r.sess = nil
	if sess == nil {
		return
	}
	if sess.drv.Wedged() {
		r.logger.Warn("closing handle with a blocking read still pending", "test", tc.ID, "handle", sess.handle.ID())
	}
	if err := sess.drv.Close(); err != nil {
		r.logger.Warn("close failed", "test", tc.ID, "error", err)
	}
}

// Close stops the simulator.
func (r *Runner) Close() error {
	if r.sess != nil {
		_ = r.sess.drv.Close()
		r.sess = nil
	}
	if r.sim != nil {
		r.sim.Stop()
	}
	return nil
}

// registerHandlers registers all action handlers with the engine.
func (r *Runner) registerHandlers() {
	r.engine.RegisterHandler(ActionOpen, action(r.handleOpen))
	r.engine.RegisterHandler(ActionClose, action(r.handleClose))
	r.engine.RegisterHandler(ActionControl, action(r.handleControl))
	r.engine.RegisterHandler(ActionSetBlocking, action(r.handleSetBlocking))
	r.engine.RegisterHandler(ActionRead, action(r.handleRead))
	r.engine.RegisterHandler(ActionProbeHang, action(r.handleProbeHang))
	r.engine.RegisterHandler(ActionWait, action(r.handleWait))
	r.engine.RegisterHandler(ActionStatus, action(r.handleStatus))
}
