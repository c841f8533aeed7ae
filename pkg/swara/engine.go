package swara

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/andityas/swara/pkg/call"
	"github.com/andityas/swara/pkg/events"
	"github.com/andityas/swara/pkg/frames"
	"github.com/andityas/swara/pkg/functions"
	"github.com/andityas/swara/pkg/generation"
	"github.com/andityas/swara/pkg/llm"
	"github.com/andityas/swara/pkg/logging"
	"github.com/andityas/swara/pkg/metrics"
	"github.com/andityas/swara/pkg/observers"
	"github.com/andityas/swara/pkg/priority"
	"github.com/andityas/swara/pkg/redact"
	"github.com/andityas/swara/pkg/resilience"
	"github.com/andityas/swara/pkg/runner"
	"github.com/andityas/swara/pkg/sequencer"
	"github.com/andityas/swara/pkg/synthesis"
	"github.com/andityas/swara/pkg/transcription"
	"github.com/andityas/swara/pkg/transports"
)

// Engine routes transport frames to per-call sessions. Each session is
// a bus with the transcription, generation, synthesis and playback
// channels subscribed; the engine only creates sessions, feeds them
// audio, and tears them down.
type Engine struct {
	cfg       Config
	registry  *SessionRegistry
	transport transports.Transport
	providers *ProviderRegistry
	funcs     *functions.Registry
	runner    *runner.LifecycleRunner
	asyncObs  *metrics.AsyncObserver
	ctx       context.Context
	cancel    context.CancelFunc
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	Transport transports.Transport
	// Updater finishes or redirects live calls. When nil and the
	// transport implements transports.CallUpdater, the transport is
	// used.
	Updater   transports.CallUpdater
	Functions []functions.Function
	Observers []metrics.Observer
}

func NewEngine(opts EngineOptions) *Engine {
	cfg := opts.Config
	SetDefaultLogger(cfg.LogLevel)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	slog.Info("swara_init",
		"environment", cfg.Environment,
		"llm_provider", cfg.Vendors.LLM.Provider,
		"stt_provider", cfg.Vendors.STT.Provider,
		"tts_provider", cfg.Vendors.TTS.Provider,
		"transport", cfg.Transports.Provider,
	)

	latencyObs := observers.NewLatencyObserver(slog.Default())
	logObs := observers.NewLoggerObserver(slog.Default())
	var timelineObs *observers.TimelineObserver
	obsList := []metrics.Observer{latencyObs, logObs}
	if dir := strings.TrimSpace(cfg.Observability.ArtifactsDir); dir != "" {
		if cfg.Observability.RetentionDays > 0 {
			_, _ = observers.PurgeArtifacts(dir, time.Duration(cfg.Observability.RetentionDays)*24*time.Hour)
		}
		timelineObs = observers.NewTimelineObserver(dir)
		obsList = append(obsList, timelineObs)
	}
	obsList = append(obsList, opts.Observers...)
	asyncObs := metrics.NewAsyncObserver(observers.NewMultiObserver(obsList...), 2048)

	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviders()
	}

	updater := opts.Updater
	if updater == nil {
		if cu, ok := opts.Transport.(transports.CallUpdater); ok {
			updater = cu
		}
	}
	funcs := buildFunctionRegistry(cfg, updater, opts.Functions)

	sinkProvider, _ := opts.Transport.(transports.SinkProvider)

	registry := NewSessionRegistry(func(ctx context.Context, start StartMeta) (*Session, error) {
		if sinkProvider == nil {
			return nil, fmt.Errorf("transport cannot provide call sinks")
		}
		sink, ok := sinkProvider.Sink(start.CallSID)
		if !ok {
			return nil, fmt.Errorf("no sink for call %s", start.CallSID)
		}

		log := logging.NewCallLogger(slog.Default(), start.CallSID)
		bus := events.NewBus(log)
		callCtx := call.New(call.Params{
			SID:          start.CallSID,
			From:         start.From,
			To:           start.To,
			Instructions: cfg.Agent.Instructions,
			Recorded:     cfg.Agent.RecordedNotice,
		})

		sttEngine, err := providers.BuildSTT(cfg.Vendors.STT.Provider, cfg, start.CallSID, start.StreamID)
		if err != nil {
			return nil, err
		}
		ttsEngine, err := providers.BuildTTS(cfg.Vendors.TTS.Provider, cfg)
		if err != nil {
			return nil, err
		}
		adapter, err := providers.BuildLLM(cfg.Vendors.LLM.Provider, cfg)
		if err != nil {
			return nil, err
		}
		guarded := llm.NewCircuitBreakerAdapter(adapter, resilience.NewCircuitBreaker(3, 30*time.Second))
		guarded.SetObserver(asyncObs)

		trans := transcription.New(bus, sttEngine, start.CallSID, log)
		gen := generation.New(bus, guarded, callCtx, funcs, log)
		synth := synthesis.New(bus, ttsEngine, start.CallSID, log,
			synthesis.WithConcurrency(int64(cfg.Synthesis.Concurrency)))

		seqOpts := []sequencer.Option{sequencer.WithSampleRate(cfg.Playback.SampleRate)}
		if cfg.Playback.BytesPerSecond > 0 {
			seqOpts = append(seqOpts, sequencer.WithPacing(cfg.Playback.BytesPerSecond, cfg.Playback.Burst))
		}
		seq := sequencer.New(bus, sink, callCtx, start.StreamID, log, seqOpts...)

		executor := functions.NewExecutor(funcs, bus, log, functions.ExecutorOptions{
			Concurrency:  cfg.Functions.Concurrency,
			Timeout:      time.Duration(cfg.Functions.TimeoutMS) * time.Millisecond,
			Retries:      cfg.Functions.Retries,
			RetryBackoff: time.Duration(cfg.Functions.RetryBackoffMS) * time.Millisecond,
		})

		bus.SubscribeAll(observers.Bridge(asyncObs))

		if err := trans.Start(ctx); err != nil {
			executor.Close()
			return nil, err
		}
		go seq.Run(ctx)

		return &Session{
			CallSID:       start.CallSID,
			StreamID:      start.StreamID,
			Bus:           bus,
			Call:          callCtx,
			Transcription: trans,
			Generation:    gen,
			Synthesis:     synth,
			Sequencer:     seq,
			closers: []func(){
				func() { _ = trans.Close() },
				gen.Close,
				synth.Close,
				executor.Close,
			},
		}, nil
	})

	hooks := runner.Hooks{
		OnStart: func() {
			fields := []any{"message", "Swara Engine Ready"}
			if rr, ok := opts.Transport.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					fields = append(fields, k, v)
				}
			}
			slog.Info("engine_ready", fields...)
		},
		OnStop: func() {
			if asyncObs != nil {
				asyncObs.Close()
			}
			if timelineObs != nil {
				_ = timelineObs.Close()
			}
			slog.Info("shutdown", "goroutines", runtime.NumGoroutine(), "active_calls", registry.Count())
		},
	}

	drainer := drainerFunc(func() error {
		if opts.Transport != nil {
			_ = opts.Transport.Stop()
		}
		registry.SetDraining(true)
		registry.CloseAll()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		_ = registry.WaitForEmpty(ctx, 200*time.Millisecond)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:       cfg,
		registry:  registry,
		transport: opts.Transport,
		providers: providers,
		funcs:     funcs,
		runner:    runner.NewLifecycleRunner(drainer, hooks, 30*time.Second),
		asyncObs:  asyncObs,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func buildFunctionRegistry(cfg Config, updater transports.CallUpdater, extra []functions.Function) *functions.Registry {
	reg := functions.NewRegistry(extra...)
	if updater != nil {
		if cfg.Agent.EnableEndCall {
			reg.Register(functions.EndCall(updater))
		}
		if cfg.Agent.EnableTransfer {
			reg.Register(functions.TransferCall(updater, cfg.Agent.TransferTarget))
		}
	}
	return reg
}

func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.transport != nil {
		if err := e.transport.Start(ctx); err != nil {
			return err
		}
		go e.routeTransport(e.ctx)
	}
	go func() {
		_ = e.runner.Run(ctx)
	}()
	return nil
}

func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	return e.runner.Stop()
}

// routeTransport queues inbound frames through a two-lane priority
// queue so that clears, marks and call lifecycle frames are dispatched
// ahead of buffered audio when the engine falls behind.
func (e *Engine) routeTransport(ctx context.Context) {
	q := priority.New(64, 512, 4)
	go func() {
		defer q.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-e.transport.Recv():
				if !ok {
					return
				}
				if f.Kind() == frames.KindAudio {
					q.TryPushLow(f)
				} else {
					q.PushHigh(ctx, f)
				}
			}
		}
	}()
	for {
		f, ok := q.Pop(ctx)
		if !ok {
			return
		}
		e.dispatchFrame(f)
	}
}

func (e *Engine) dispatchFrame(f frames.Frame) {
	meta := f.Meta()
	callSID := meta[frames.MetaCallSID]
	switch f.Kind() {
	case frames.KindAudio:
		if sess, ok := e.registry.Get(callSID); ok {
			sess.HandleAudio(f.(frames.AudioFrame))
		}
	case frames.KindControl:
		cf := f.(frames.ControlFrame)
		if cf.Code() != frames.ControlMark {
			return
		}
		if sess, ok := e.registry.Get(callSID); ok {
			sess.Bus.Emit(events.AudioSent{
				Base:  events.Base{CallSID: callSID, At: time.Now()},
				Label: meta[frames.MetaMarkLabel],
			})
		}
	case frames.KindSystem:
		e.dispatchSystem(f.(frames.SystemFrame), meta)
	}
}

func (e *Engine) dispatchSystem(sf frames.SystemFrame, meta map[string]string) {
	callSID := meta[frames.MetaCallSID]
	switch sf.Name() {
	case "call_start":
		start := StartMeta{
			CallSID:  callSID,
			StreamID: meta[frames.MetaStreamID],
			From:     meta[frames.MetaFromNumber],
			To:       meta[frames.MetaToNumber],
		}
		sess, created, err := e.registry.GetOrCreate(start)
		if err != nil {
			slog.Error("session_create_failed", "call_sid", callSID, "error", err.Error())
			return
		}
		if created && sess != nil {
			e.asyncObs.RecordEvent(metrics.MetricsEvent{
				Name: metrics.EventCallStart,
				Time: time.Now(),
				Tags: map[string]string{"call_sid": callSID, "from": sess.Call.From()},
			})
			sess.Greet(e.cfg.Agent.Greeting)
		}
	case "call_end":
		if sess, ok := e.registry.Get(callSID); ok {
			reason := meta[frames.MetaReason]
			if reason == "" {
				reason = "completed"
			}
			sess.Bus.Emit(events.CallEnded{
				Base:   events.Base{CallSID: callSID, At: time.Now()},
				Reason: reason,
			})
			e.registry.Remove(callSID)
		}
	}
}

func (e *Engine) Registry() *SessionRegistry { return e.registry }

func (e *Engine) Transport() transports.Transport { return e.transport }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Functions() *functions.Registry { return e.funcs }

func (e *Engine) Context() context.Context {
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

func (e *Engine) Health() error {
	if e.transport == nil {
		return fmt.Errorf("missing transport")
	}
	return nil
}

type drainerFunc func() error

func (d drainerFunc) Drain() error { return d() }

func SetDefaultLogger(level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
