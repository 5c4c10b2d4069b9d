package coordinator

import (
	"time"

	"github.com/triviarena/triviarena/go/internal/models"
	"github.com/triviarena/triviarena/go/internal/quiz/events"
	"github.com/triviarena/triviarena/go/internal/quiz/limiter"
)

// Rules are the tunable match parameters. The zero value is not usable; start
// from DefaultRules and override from configuration.
type Rules struct {
	// ReadDelay is the armed period between a cell pick and the buzz
	// window opening, covering the host reading the clue aloud.
	ReadDelay time.Duration
	// BuzzWindow is how long the open window accepts buzzes before the
	// selection expires unclaimed.
	BuzzWindow time.Duration
	// EarlyBuzzPenalty is the extra lockout applied to contestants who
	// buzz before the window opens.
	EarlyBuzzPenalty time.Duration
	// WagerCeiling bounds wagers at max(contestant score, ceiling). The
	// double round doubles it.
	WagerCeiling models.Value
	// Rounds is the content round sequence played in a room.
	Rounds []string
	// IdleTimeout retires a room with no participants and no admitted
	// events.
	IdleTimeout time.Duration
	// InboxSize is the per-room buffered event queue length.
	InboxSize int
	// Limits configures the admission limiter per event class. Classes
	// without an entry use limiter.DefaultConfig.
	Limits map[events.Type]limiter.Config
}

// DefaultRules returns the documented default tunables.
func DefaultRules() Rules {
	return Rules{
		ReadDelay:        3 * time.Second,
		BuzzWindow:       5 * time.Second,
		EarlyBuzzPenalty: 250 * time.Millisecond,
		WagerCeiling:     1000,
		Rounds:           []string{"single", "double"},
		IdleTimeout:      5 * time.Minute,
		InboxSize:        256,
		Limits: map[events.Type]limiter.Config{
			events.TypeBuzz:       {Capacity: 3, FillRate: 1.5, IdleFactor: 4},
			events.TypeSelectCell: {Capacity: 5, FillRate: 1, IdleFactor: 4},
		},
	}
}

// limitFor returns the bucket parameters for one event class.
func (r Rules) limitFor(t events.Type) limiter.Config {
	if cfg, ok := r.Limits[t]; ok {
		return cfg
	}
	return limiter.DefaultConfig()
}

// weightFor is the admission cost of one event class. All classes currently
// weigh one token; the per-class bucket parameters carry the policy.
func weightFor(events.Type) int {
	return 1
}
