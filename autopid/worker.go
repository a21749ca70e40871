// Package autopid polls configured diagnostic signals through an
// ELM327-style adapter and publishes their evaluated results.
package autopid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"i4.energy/across/obdgw/elm"
)

// ConnectionState is the state of the Worker's control loop.
type ConnectionState int32

const (
	ConnectCheck ConnectionState = iota
	ConnectNotify
	ReadPid
	DisconnectNotify
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectCheck:
		return "CONNECT_CHECK"
	case ConnectNotify:
		return "CONNECT_NOTIFY"
	case ReadPid:
		return "READ_PID"
	case DisconnectNotify:
		return "DISCONNECT_NOTIFY"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int32(s))
	}
}

// Status records sent to the status topic.
const (
	OnlinePayload  = `{"ecu_status":"online"}`
	OfflinePayload = `{"ecu_status":"offline"}`
)

// Timing holds every delay and bound of the control loop.
type Timing struct {
	// StartupDelay precedes the default initialisation.
	StartupDelay time.Duration
	// DefaultInitPacing separates the default initialisation commands.
	DefaultInitPacing time.Duration
	// InitPacing separates the custom initialisation commands.
	InitPacing time.Duration
	// DrainTimeout ends a drain once no response arrived for this long.
	DrainTimeout time.Duration
	// ProbeSettle follows the probe command.
	ProbeSettle time.Duration
	// ResponseTimeout bounds the wait for a probe or poll response.
	ResponseTimeout time.Duration
	// RetryBackoff follows an unanswered probe.
	RetryBackoff time.Duration
	// NotifySettle follows an online or offline notification.
	NotifySettle time.Duration
	// PublishPause follows every published result.
	PublishPause time.Duration
	// IdleBackoff is slept while there is nothing to poll or the
	// broker is down.
	IdleBackoff time.Duration
	// SweepYield separates sweeps without a missed response.
	SweepYield time.Duration
}

// DefaultTiming returns the adapter firmware's timings.
func DefaultTiming() Timing {
	return Timing{
		StartupDelay:      time.Second,
		DefaultInitPacing: 50 * time.Millisecond,
		InitPacing:        100 * time.Millisecond,
		DrainTimeout:      time.Second,
		ProbeSettle:       time.Second,
		ResponseTimeout:   time.Second,
		RetryBackoff:      3 * time.Second,
		NotifySettle:      time.Second,
		PublishPause:      10 * time.Millisecond,
		IdleBackoff:       2 * time.Second,
		SweepYield:        10 * time.Millisecond,
	}
}

func (t *Timing) setDefaults() {
	def := DefaultTiming()
	for _, f := range []struct{ v, d *time.Duration }{
		{&t.StartupDelay, &def.StartupDelay},
		{&t.DefaultInitPacing, &def.DefaultInitPacing},
		{&t.InitPacing, &def.InitPacing},
		{&t.DrainTimeout, &def.DrainTimeout},
		{&t.ProbeSettle, &def.ProbeSettle},
		{&t.ResponseTimeout, &def.ResponseTimeout},
		{&t.RetryBackoff, &def.RetryBackoff},
		{&t.NotifySettle, &def.NotifySettle},
		{&t.PublishPause, &def.PublishPause},
		{&t.IdleBackoff, &def.IdleBackoff},
		{&t.SweepYield, &def.SweepYield},
	} {
		if *f.v <= 0 {
			*f.v = *f.d
		}
	}
}

// Options configures a Worker.
type Options struct {
	// Transceiver and Responses form the adapter collaborator. Required.
	Transceiver Transceiver
	Responses   <-chan elm.Response
	// Publisher is required.
	Publisher Publisher
	// Evaluator is required.
	Evaluator Evaluator
	// Recorder receives file kind results. When nil those results are
	// published to their topic instead.
	Recorder Recorder

	Config Config

	StatusTopic string
	ResultTopic string

	// DefaultInit is sent once at startup. Empty selects elm.DefaultInit.
	DefaultInit string

	// Timing fields left zero take their DefaultTiming value.
	Timing Timing
	Logger *slog.Logger

	// Sleep, Now and Jitter replace the clock. Nil selects the real one.
	Sleep  SleepFunc
	Now    func() time.Time
	Jitter func() time.Duration
}

// SignalInfo describes a configured signal without its schedule.
type SignalInfo struct {
	Name        string
	Command     string
	Period      time.Duration
	Destination string
	Kind        string
}

// Worker runs the connection state machine. Run must be called from a
// single goroutine; State and Signals may be called from any.
type Worker struct {
	tx          Transceiver
	responses   <-chan elm.Response
	pub         Publisher
	eval        Evaluator
	recorder    Recorder
	dispatcher  Dispatcher
	scheduler   *Scheduler
	init        string
	defaultInit string
	statusTopic string
	resultTopic string
	timing      Timing
	sleep       SleepFunc
	logger      *slog.Logger

	state    ConnectionState
	observed atomic.Int32
	info     []SignalInfo
}

// New validates opts and returns a Worker in ConnectCheck.
func New(opts Options) (*Worker, error) {
	if opts.Transceiver == nil || opts.Responses == nil {
		return nil, ErrNoTransceiver
	}
	if opts.Publisher == nil {
		return nil, ErrNoPublisher
	}
	if opts.Evaluator == nil {
		return nil, ErrNoEvaluator
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	timing := opts.Timing
	timing.setDefaults()
	defaultInit := opts.DefaultInit
	if defaultInit == "" {
		defaultInit = elm.DefaultInit
	}

	signals := append([]SignalRequest(nil), opts.Config.Signals...)
	info := make([]SignalInfo, len(signals))
	for i, s := range signals {
		info[i] = SignalInfo{
			Name:        s.Name,
			Command:     strings.TrimSuffix(s.Command, elm.CR),
			Period:      s.Period,
			Destination: s.Destination,
			Kind:        s.Kind.String(),
		}
	}

	scheduler := NewScheduler(signals)
	if opts.Now != nil {
		scheduler.now = opts.Now
	}
	if opts.Jitter != nil {
		scheduler.jitter = opts.Jitter
	}

	return &Worker{
		tx:          opts.Transceiver,
		responses:   opts.Responses,
		pub:         opts.Publisher,
		eval:        opts.Evaluator,
		recorder:    opts.Recorder,
		dispatcher:  Dispatcher{Transceiver: opts.Transceiver, Sleep: sleep, Logger: logger},
		scheduler:   scheduler,
		init:        opts.Config.Init,
		defaultInit: defaultInit,
		statusTopic: opts.StatusTopic,
		resultTopic: opts.ResultTopic,
		timing:      timing,
		sleep:       sleep,
		logger:      logger,
		state:       ConnectCheck,
		info:        info,
	}, nil
}

// State returns the current state.
func (w *Worker) State() ConnectionState {
	return ConnectionState(w.observed.Load())
}

// Signals describes the configured signals.
func (w *Worker) Signals() []SignalInfo {
	return w.info
}

// Run sends the default initialisation and then advances the state
// machine until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Init(ctx); err != nil {
		return err
	}
	for {
		if err := w.Step(ctx); err != nil {
			return err
		}
	}
}

// Init waits for the adapter to boot, sends the default initialisation
// and discards whatever it answered.
func (w *Worker) Init(ctx context.Context) error {
	if err := w.sleep(ctx, w.timing.StartupDelay); err != nil {
		return err
	}
	w.logger.Info("Initializing adapter")
	if err := w.dispatcher.Dispatch(ctx, w.defaultInit, w.timing.DefaultInitPacing); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return w.drain(ctx)
}

// Step runs one pass of the current state. It returns an error only when
// ctx is done.
func (w *Worker) Step(ctx context.Context) error {
	if w.scheduler.Len() == 0 || !w.pub.IsConnected() {
		w.setState(ConnectCheck)
		return w.sleep(ctx, w.timing.IdleBackoff)
	}

	switch w.state {
	case ConnectCheck:
		return w.connectCheck(ctx)
	case ConnectNotify:
		return w.notify(ctx, OnlinePayload, ReadPid)
	case ReadPid:
		return w.readPid(ctx)
	case DisconnectNotify:
		return w.notify(ctx, OfflinePayload, ConnectCheck)
	default:
		w.setState(ConnectCheck)
		return nil
	}
}

func (w *Worker) setState(s ConnectionState) {
	if w.state != s {
		w.logger.Info("State change", "from", w.state.String(), "to", s.String())
	}
	w.state = s
	w.observed.Store(int32(s))
}

func (w *Worker) connectCheck(ctx context.Context) error {
	if w.init != "" {
		if err := w.dispatcher.Dispatch(ctx, w.init, w.timing.InitPacing); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if err := w.drain(ctx); err != nil {
		return err
	}
	if err := w.dispatcher.Dispatch(ctx, elm.ProbeCommand, w.timing.ProbeSettle); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	_, err := w.await(ctx)
	switch {
	case err == nil:
		w.setState(ConnectNotify)
		return nil
	case errors.Is(err, ErrResponseTimeout):
		w.logger.Warn("No response to probe, retrying", "backoff", w.timing.RetryBackoff)
		return w.sleep(ctx, w.timing.RetryBackoff)
	default:
		return err
	}
}

func (w *Worker) notify(ctx context.Context, payload string, next ConnectionState) error {
	if err := w.pub.Publish(w.statusTopic, []byte(payload)); err != nil {
		w.logger.Error("Failed to publish status", "payload", payload, "error", err)
	}
	if err := w.sleep(ctx, w.timing.NotifySettle); err != nil {
		return err
	}
	w.setState(next)
	return nil
}

func (w *Worker) readPid(ctx context.Context) error {
	missed := false

	for sig := range w.scheduler.Due() {
		if err := w.dispatcher.Dispatch(ctx, sig.Command, 0); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		resp, err := w.await(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("Timeout waiting for response", "signal", sig.Name, "command", strings.TrimSuffix(sig.Command, elm.CR))
			missed = true
			continue
		}

		if err := w.deliver(ctx, sig, resp); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("Failed to handle result", "signal", sig.Name, "error", err)
		}
	}

	if missed {
		w.setState(DisconnectNotify)
		return nil
	}
	return w.sleep(ctx, w.timing.SweepYield)
}

// deliver evaluates resp for sig and sends the result record.
func (w *Worker) deliver(ctx context.Context, sig *SignalRequest, resp elm.Response) error {
	w.logger.Debug("Received response", "signal", sig.Name, "length", resp.Len(), "data", resp.Hex())

	value, err := w.eval.Evaluate(sig.Expression, resp.Data)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrEvaluation, sig.Expression, err)
	}
	w.logger.Debug("Expression result", "signal", sig.Name, "value", value)

	payload, err := resultPayload(sig.Name, value, resp.Data)
	if err != nil {
		return err
	}

	if sig.Kind == KindFile && w.recorder != nil && sig.Destination != "" {
		if err := w.recorder.Record(sig.Destination, payload); err != nil {
			return fmt.Errorf("record %s: %w", sig.Destination, err)
		}
	} else {
		topic := sig.Destination
		if topic == "" {
			topic = w.resultTopic
		}
		if err := w.pub.Publish(topic, payload); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}

	return w.sleep(ctx, w.timing.PublishPause)
}

// resultPayload encodes {"<name>": value, "raw": "<HEX>"} keeping the
// signal name first.
func resultPayload(name string, value float64, data []byte) ([]byte, error) {
	key, err := json.Marshal(name)
	if err != nil {
		return nil, err
	}
	num, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEvaluation, err)
	}

	var b strings.Builder
	b.WriteByte('{')
	b.Write(key)
	b.WriteByte(':')
	b.Write(num)
	b.WriteString(`,"raw":"`)
	b.WriteString(elm.Response{Data: data}.Hex())
	b.WriteString(`"}`)
	return []byte(b.String()), nil
}

// await waits ResponseTimeout for one decoded response.
func (w *Worker) await(ctx context.Context) (elm.Response, error) {
	return w.receive(ctx, w.timing.ResponseTimeout)
}

func (w *Worker) receive(ctx context.Context, d time.Duration) (elm.Response, error) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case resp := <-w.responses:
		return resp, nil
	case <-t.C:
		return elm.Response{}, ErrResponseTimeout
	case <-ctx.Done():
		return elm.Response{}, ctx.Err()
	}
}

// drain discards responses until none arrives for DrainTimeout.
func (w *Worker) drain(ctx context.Context) error {
	n := 0
	for {
		_, err := w.receive(ctx, w.timing.DrainTimeout)
		if errors.Is(err, ErrResponseTimeout) {
			break
		}
		if err != nil {
			return err
		}
		n++
	}
	if n > 0 {
		w.logger.Debug("Drained stale responses", "count", n)
	}
	return nil
}
