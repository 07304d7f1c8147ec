package mood

import (
	"math/rand"
	"strings"
	"sync"
)

// Mood is the current conversational mood of one conversation.
type Mood string

const (
	Happy        Mood = "happy"
	Thoughtful   Mood = "thoughtful"
	Curious      Mood = "curious"
	Playful      Mood = "playful"
	Professional Mood = "professional"
	Calm         Mood = "calm"
	Excited      Mood = "excited"
)

// Default is the mood a fresh conversation starts with.
const Default = Thoughtful

// DefaultChangeProbability is the chance that a completed exchange shifts the mood.
const DefaultChangeProbability = 0.2

type moodInfo struct {
	Emoji    string
	Prefixes []string
	Suffixes []string
	Energy   float64 // natural energy level 0..5
}

var moods = map[Mood]moodInfo{
	Happy: {
		Emoji:    "😊",
		Prefixes: []string{"Happily, ", "With joy, ", "Excitedly, "},
		Suffixes: []string{" Feeling cheerful today!", " That was fun to answer!", " Hope that helps!"},
		Energy:   5,
	},
	Thoughtful: {
		Emoji:    "🤔",
		Prefixes: []string{"Hmm, ", "Let me think... ", "Considering that, "},
		Suffixes: []string{" Still pondering this one...", " Quite an interesting question!", " What do you think?"},
		Energy:   3,
	},
	Curious: {
		Emoji:    "🧐",
		Prefixes: []string{"Interestingly, ", "Curiously, ", "I wonder... "},
		Suffixes: []string{" That's fascinating!", " I'd like to learn more about that.", " What else can we explore here?"},
		Energy:   4,
	},
	Playful: {
		Emoji:    "😏",
		Prefixes: []string{"Oh! ", "Fun fact: ", "Ready for this? "},
		Suffixes: []string{" Bet you didn't expect that answer!", " That's a fun one!", " *winks*"},
		Energy:   5,
	},
	Professional: {
		Emoji:    "👨‍💼",
		Prefixes: []string{"Professionally speaking, ", "According to best practices, ", "In my analysis, "},
		Suffixes: []string{" Hope that clarifies things.", " Let me know if you need more specific information."},
		Energy:   2,
	},
	Calm: {
		Emoji:    "😌",
		Prefixes: []string{"Calmly, ", "With measured thought, ", "Serenely, "},
		Suffixes: []string{" Take your time to digest that.", " I'm here whenever you're ready for more."},
		Energy:   1,
	},
	Excited: {
		Emoji:    "🤩",
		Prefixes: []string{"WOW! ", "How exciting! ", "Oh my goodness! "},
		Suffixes: []string{" Isn't that AMAZING?!", " This is so cool!", " I'm thrilled to share this with you!"},
		Energy:   5,
	},
}

// All returns every mood in a stable order.
func All() []Mood {
	return []Mood{Happy, Thoughtful, Curious, Playful, Professional, Calm, Excited}
}

// Valid reports whether s names a known mood.
func Valid(s string) bool {
	_, ok := moods[Mood(s)]
	return ok
}

// Emoji returns the indicator emoji for m.
func Emoji(m Mood) string {
	info, ok := moods[m]
	if !ok {
		info = moods[Default]
	}
	return info.Emoji
}

// BaseEnergy returns the natural energy level (0..5) of m.
func BaseEnergy(m Mood) float64 {
	info, ok := moods[m]
	if !ok {
		info = moods[Default]
	}
	return info.Energy
}

// Engine applies probabilistic mood transitions. The random source is
// injected so transitions are reproducible in tests.
type Engine struct {
	mu  sync.Mutex
	p   float64
	rng *rand.Rand
}

// NewEngine creates an Engine with change probability p. A p outside (0,1]
// falls back to DefaultChangeProbability.
func NewEngine(p float64, seed int64) *Engine {
	if p <= 0 || p > 1 {
		p = DefaultChangeProbability
	}
	return &Engine{p: p, rng: rand.New(rand.NewSource(seed))}
}

// Advance is called once per completed exchange. With probability p it
// returns a new mood drawn uniformly from all moods except current, so a
// transition is never a no-op. Otherwise current is returned unchanged.
func (e *Engine) Advance(current Mood) Mood {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rng.Float64() >= e.p {
		return current
	}
	others := make([]Mood, 0, len(moods)-1)
	for _, m := range All() {
		if m != current {
			others = append(others, m)
		}
	}
	return others[e.rng.Intn(len(others))]
}

// Decorate wraps text with a mood prefix/suffix pair chosen at random.
// Used by the gateway adapter; the engine itself returns undecorated text.
func (e *Engine) Decorate(m Mood, text string) string {
	info, ok := moods[m]
	if !ok {
		info = moods[Default]
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var b strings.Builder
	if len(info.Prefixes) > 0 {
		b.WriteString(info.Prefixes[e.rng.Intn(len(info.Prefixes))])
	}
	b.WriteString(text)
	if len(info.Suffixes) > 0 {
		b.WriteString(info.Suffixes[e.rng.Intn(len(info.Suffixes))])
	}
	return b.String()
}
