package command

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/gosbatch/pkg/errdefs"
	"github.com/3leaps/gosbatch/pkg/transport"
)

// Options configures a Registry.
type Options struct {
	// OpenRate limits channel opens per second. Zero disables limiting.
	// Login nodes commonly cap sessions per connection (sshd MaxSessions).
	OpenRate float64

	// OpenBurst is the limiter burst size. Values < 1 are treated as 1.
	OpenBurst int

	Logger *zap.Logger

	// Now overrides the clock used for timestamps. Default: time.Now.
	Now func() time.Time
}

// Registry is the single record of every command issued on a transport.
//
// It is safe for concurrent use. Channel opens are serialized so opening
// channel N+1 never races channel N on the shared connection; once open,
// commands are polled independently.
type Registry struct {
	transport transport.Transport
	limiter   *rate.Limiter
	logger    *zap.Logger
	now       func() time.Time

	openMu sync.Mutex

	mu       sync.RWMutex
	nextID   int
	commands map[int]*entry
}

func NewRegistry(t transport.Transport, opts Options) *Registry {
	r := &Registry{
		transport: t,
		logger:    opts.Logger,
		now:       opts.Now,
		commands:  make(map[int]*entry),
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if opts.OpenRate > 0 {
		burst := opts.OpenBurst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.OpenRate), burst)
	}
	return r
}

// Issue opens a channel, starts text on it, and returns the STARTED command.
//
// Transport failures are returned as-is (kind errdefs.ErrTransport) and are
// never retried.
func (r *Registry) Issue(ctx context.Context, text string) (Command, error) {
	if strings.TrimSpace(text) == "" {
		return Command{}, errdefs.Validation("command text is empty")
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return Command{}, &transport.TransportError{Op: "open channel", Err: err}
		}
	}

	r.openMu.Lock()
	defer r.openMu.Unlock()

	ch, err := r.transport.OpenChannel(ctx, text)
	if err != nil {
		r.logger.Error("Failed to open channel", zap.String("cmd", text), zap.Error(err))
		return Command{}, err
	}

	now := r.now()
	r.mu.Lock()
	r.nextID++
	e := &entry{
		poll:    newChanMutex(),
		channel: ch,
		cmd: Command{
			ID:      r.nextID,
			Cmd:     text,
			TS:      now,
			Status:  StatusStarted,
			History: []Transition{{Status: StatusStarted, TS: now}},
		},
	}
	r.commands[e.cmd.ID] = e
	r.mu.Unlock()

	r.logger.Debug("Issued command", zap.Int("id", e.cmd.ID), zap.String("cmd", text))
	return e.snapshot(), nil
}

// Status returns the current snapshot of a command without touching its channel.
func (r *Registry) Status(id int) (Command, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Command{}, err
	}
	return e.snapshot(), nil
}

// List returns snapshots of every command issued, ordered by id.
func (r *Registry) List() []Command {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.commands))
	for _, e := range r.commands {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Command, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Run issues text and waits for it to finish.
//
// A command that ends FAILED is returned together with a *CommandError.
func (r *Registry) Run(ctx context.Context, text string) (Command, error) {
	c, err := r.Issue(ctx, text)
	if err != nil {
		return c, err
	}
	c, err = r.Poll(ctx, c.ID, PollOptions{Wait: true})
	if err != nil {
		return c, err
	}
	if c.Status == StatusFailed {
		r.logger.Debug("Command failed",
			zap.Int("id", c.ID),
			zap.String("cmd", c.Cmd),
			zap.Int("exit_status", c.ExitStatus),
			zap.String("stderr", c.Stderr))
		return c, newCommandError(c)
	}
	return c, nil
}

func (r *Registry) lookup(id int) (*entry, error) {
	r.mu.RLock()
	e, ok := r.commands[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errdefs.NotFound("command %d", id)
	}
	return e, nil
}
