package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shaunagostinho/createlink/internal/robot"
	"github.com/shaunagostinho/createlink/internal/sensor"
)

// PipelineConfig is what the pipeline needs from Config, resolved.
type PipelineConfig struct {
	StreamIDs    []byte
	Initialize   bool
	Strategies   map[byte]sensor.Strategy
	ReadTimeout  time.Duration
	PollInterval time.Duration

	// Reconnect backoff: starts at RetryDelay, doubles up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// Attempts logged with a counter before switching to the short form.
	MaxAttempts int
}

// PipelineFromConfig resolves cfg into a PipelineConfig.
func PipelineFromConfig(cfg *Config) (PipelineConfig, error) {
	ids, err := cfg.StreamIDs()
	if err != nil {
		return PipelineConfig{}, err
	}
	strategies, err := cfg.Strategies()
	if err != nil {
		return PipelineConfig{}, err
	}
	snap := cfg.Snapshot()
	return PipelineConfig{
		StreamIDs:     ids,
		Initialize:    snap.Stream.Initialize,
		Strategies:    strategies,
		ReadTimeout:   snap.Robot.ReadTimeout(),
		PollInterval:  time.Duration(snap.Accumulator.PollIntervalMs) * time.Millisecond,
		RetryDelay:    time.Second,
		MaxRetryDelay: 60 * time.Second,
		MaxAttempts:   10,
	}, nil
}

// Pipeline owns the robot link and the reader/accumulator pair running on
// it. When the link fails it tears both down, reconnects with backoff and
// starts a fresh pair seeded with the last sensor table.
type Pipeline struct {
	link robot.Link
	cmds *robot.Commands
	cfg  PipelineConfig
	log  *zap.Logger
	obs  sensor.Observer

	mu     sync.RWMutex
	reader *sensor.Reader
	acc    *sensor.Accumulator
	last   map[byte]int
}

func NewPipeline(link robot.Link, cfg PipelineConfig, log *zap.Logger, obs sensor.Observer) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = cfg.RetryDelay
	}
	return &Pipeline{
		link: link,
		cmds: robot.NewCommands(link, 0, log.Named("commands")),
		cfg:  cfg,
		log:  log,
		obs:  obs,
	}
}

// Commands returns the command encoder bound to the pipeline's link.
func (p *Pipeline) Commands() *robot.Commands { return p.cmds }

// Run supervises the link until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		if !p.connectWithRetry(ctx) {
			return nil
		}
		err := p.runOnce(ctx)
		p.link.Close()
		if ctx.Err() != nil {
			return nil
		}
		p.log.Warn("pipeline stopped, reconnecting", zap.String("link", p.link.Name()), zap.Error(err))
	}
}

// connectWithRetry attempts to connect with exponential backoff. It reports
// false only if ctx was cancelled first.
func (p *Pipeline) connectWithRetry(ctx context.Context) bool {
	delay := p.cfg.RetryDelay
	attempt := 0

	for {
		if ctx.Err() != nil {
			return false
		}

		err := p.link.Connect()
		if err == nil {
			p.log.Info("connected", zap.String("link", p.link.Name()), zap.Int("attempt", attempt+1))
			return true
		}

		attempt++
		if p.cfg.MaxAttempts <= 0 || attempt <= p.cfg.MaxAttempts {
			p.log.Warn("connect failed",
				zap.String("link", p.link.Name()),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", p.cfg.MaxAttempts),
				zap.Duration("retry_in", delay),
				zap.Error(err))
		} else {
			p.log.Debug("connect failed", zap.Int("attempt", attempt), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		delay *= 2
		if delay > p.cfg.MaxRetryDelay {
			delay = p.cfg.MaxRetryDelay
		}
	}
}

// runOnce starts the stream and the reader/accumulator pair, and returns
// when either goroutine exits.
func (p *Pipeline) runOnce(ctx context.Context) error {
	if p.cfg.Initialize {
		if err := p.cmds.Initialize(p.cfg.StreamIDs); err != nil {
			return err
		}
	} else if err := p.cmds.Stream(p.cfg.StreamIDs...); err != nil {
		return err
	}

	opts := []sensor.ReaderOption{sensor.WithReaderLogger(p.log.Named("reader"))}
	accOpts := []sensor.AccumulatorOption{sensor.WithAccumulatorLogger(p.log.Named("accumulator"))}
	if p.obs != nil {
		opts = append(opts, sensor.WithReaderObserver(p.obs))
		accOpts = append(accOpts, sensor.WithAccumulatorObserver(p.obs))
	}
	if p.cfg.PollInterval > 0 {
		accOpts = append(accOpts, sensor.WithPollInterval(p.cfg.PollInterval))
	}

	reader := sensor.NewReader(p.link, p.cfg.ReadTimeout, opts...)
	accOpts = append(accOpts, sensor.WithMessageSink(reader))
	acc := sensor.NewAccumulator(reader, p.cfg.Strategies, accOpts...)

	p.mu.Lock()
	for id, v := range p.last {
		acc.SetSensorValue(id, v)
	}
	p.reader, p.acc = reader, acc
	p.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- reader.Run(runCtx) }()
	go func() { errCh <- acc.Run(runCtx) }()

	first := <-errCh
	reader.StopReading()
	acc.StopAccumulating()
	cancel()
	second := <-errCh

	p.mu.Lock()
	p.last = acc.Snapshot()
	p.mu.Unlock()

	err := errors.Join(first, second)
	if err == nil && ctx.Err() == nil {
		err = errors.New("pipeline: goroutines exited")
	}
	return err
}

// Snapshot is the current sensor table. Between connections it is the last
// table seen.
func (p *Pipeline) Snapshot() map[byte]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.acc != nil {
		return p.acc.Snapshot()
	}
	out := make(map[byte]int, len(p.last))
	for k, v := range p.last {
		out[k] = v
	}
	return out
}

// Messages returns the reader's diagnostic log.
func (p *Pipeline) Messages() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.reader == nil {
		return nil
	}
	return p.reader.Messages()
}

// FullMessages is Messages joined the way the reader reports them.
func (p *Pipeline) FullMessages() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.reader == nil {
		return ""
	}
	return p.reader.FullMessages()
}

func (p *Pipeline) ClearLog() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.reader != nil {
		p.reader.ClearLog()
	}
}

// Pending is the number of frames waiting for the accumulator.
func (p *Pipeline) Pending() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.reader == nil {
		return 0
	}
	return p.reader.NumPackets()
}

func (p *Pipeline) Connected() bool { return p.link.IsConnected() }

func (p *Pipeline) LinkName() string { return p.link.Name() }
