package room

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/park285/chessroom/internal/msgcat"
	"github.com/park285/chessroom/internal/obslog"
	"github.com/park285/chessroom/internal/rules"
	"go.uber.org/zap"
)

const mirrorTimeout = 2 * time.Second

// Options configures a Registry. Zero values fall back to defaults.
type Options struct {
	TickInterval       time.Duration
	DefaultTimeControl int
	// TimeControlAllowed filters requested minutes; nil accepts any positive value.
	TimeControlAllowed func(minutes int) bool
	Events             Events
	Directory          Directory
	Messages           *msgcat.Catalog
	Engine             *rules.Engine
}

// runtime is shared by the registry and all of its sessions.
type runtime struct {
	engine *rules.Engine
	tick   time.Duration
	events Events
	dir    Directory
	msgs   *msgcat.Catalog
}

// mirror pushes a summary to the directory. Failures are logged only.
func (rt *runtime) mirror(sum Summary) {
	if rt.dir == nil || sum.Code == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := rt.dir.Save(ctx, sum); err != nil {
		obslog.L().Warn("room_directory_save_error", zap.String("code", sum.Code), zap.Error(err))
	}
}

// Registry maps room codes to sessions. mu guards only the map; sessions
// lock themselves.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	rt          *runtime
	defMinutes  int
	allowedFunc func(int) bool
}

func NewRegistry(opts Options) *Registry {
	rt := &runtime{
		engine: opts.Engine,
		tick:   opts.TickInterval,
		events: opts.Events,
		dir:    opts.Directory,
		msgs:   opts.Messages,
	}
	if rt.engine == nil {
		rt.engine = rules.NewEngine()
	}
	if rt.tick <= 0 {
		rt.tick = time.Second
	}
	if rt.msgs == nil {
		rt.msgs = msgcat.MustDefault()
	}
	def := opts.DefaultTimeControl
	if def <= 0 {
		def = 3
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		rt:          rt,
		defMinutes:  def,
		allowedFunc: opts.TimeControlAllowed,
	}
}

// SetEvents installs the timer event sink. It must be called before the
// first session starts playing.
func (r *Registry) SetEvents(ev Events) { r.rt.events = ev }

// DefaultTimeControl returns the minutes used when a request names none.
func (r *Registry) DefaultTimeControl() int { return r.defMinutes }

// ResolveTimeControl maps a requested value to the minutes a session will
// use. Zero selects the default.
func (r *Registry) ResolveTimeControl(minutes int) (int, error) {
	if minutes == 0 {
		minutes = r.defMinutes
	}
	if minutes < 0 || (r.allowedFunc != nil && !r.allowedFunc(minutes)) {
		return 0, &TimeControlError{Minutes: minutes}
	}
	return minutes, nil
}

// Create inserts a waiting session with no seats and returns its code.
func (r *Registry) Create(ctx context.Context, minutes int) (string, error) {
	minutes, err := r.ResolveTimeControl(minutes)
	if err != nil {
		return "", err
	}
	for i := 0; i < codeAttempts; i++ {
		code, err := newCode()
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		if r.exists(code) {
			continue
		}
		if r.rt.dir != nil {
			ok, err := r.rt.dir.Reserve(ctx, code)
			if err != nil {
				// local uniqueness still holds
				obslog.L().Warn("room_directory_reserve_error", zap.String("code", code), zap.Error(err))
			} else if !ok {
				continue
			}
		}

		s := newSession(r.rt, code, minutes)
		r.mu.Lock()
		if _, taken := r.sessions[code]; taken {
			r.mu.Unlock()
			continue
		}
		r.sessions[code] = s
		r.mu.Unlock()

		r.rt.mirror(s.Summary())
		obslog.L().Info("room_create", zap.String("code", code), zap.Int("time_control", minutes))
		return code, nil
	}
	return "", ErrCodeExhausted
}

func (r *Registry) exists(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[code]
	return ok
}

// Get looks a session up by code, case-insensitively.
func (r *Registry) Get(code string) (*Session, error) {
	code = NormalizeCode(code)
	r.mu.RLock()
	s, ok := r.sessions[code]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return s, nil
}

// Delete removes a session after stopping its timer.
func (r *Registry) Delete(ctx context.Context, code string) error {
	code = NormalizeCode(code)
	r.mu.Lock()
	s, ok := r.sessions[code]
	if ok {
		delete(r.sessions, code)
	}
	r.mu.Unlock()
	if !ok {
		return ErrRoomNotFound
	}
	s.close()
	if r.rt.dir != nil {
		if err := r.rt.dir.Remove(ctx, code); err != nil {
			obslog.L().Warn("room_directory_remove_error", zap.String("code", code), zap.Error(err))
		}
	}
	obslog.L().Info("room_delete", zap.String("code", code))
	return nil
}

// List returns summaries of all live sessions, oldest first.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	out := make([]Summary, 0, len(list))
	for _, s := range list {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Code < out[j].Code
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close stops every timer and empties the registry.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	codes := make([]string, 0, len(r.sessions))
	for code := range r.sessions {
		codes = append(codes, code)
	}
	r.mu.Unlock()
	for _, code := range codes {
		_ = r.Delete(ctx, code)
	}
}
