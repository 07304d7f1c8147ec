package mood

// Personality selects the response style and generation parameters of a
// conversation. Unlike mood it never changes on its own — only explicit
// user selection or defaults.
type Personality string

const (
	Balanced  Personality = "balanced"
	Creative  Personality = "creative"
	Precise   Personality = "precise"
	Friendly  Personality = "friendly"
	Technical Personality = "technical"
)

// DefaultPersonality is used when neither the user nor the server picked one.
const DefaultPersonality = Balanced

// GenParams are the inference parameters a personality maps to.
type GenParams struct {
	Temperature float64
	TopP        float64
	TopK        int
}

type personalityInfo struct {
	Name       string
	Emoji      string
	StyleGuide string
	Params     GenParams
}

var personalities = map[Personality]personalityInfo{
	Balanced: {
		Name:       "Balanced",
		Emoji:      "⚖️",
		StyleGuide: "Balanced and adaptable, I provide comprehensive but concise answers.",
		Params:     GenParams{Temperature: 0.7, TopP: 0.9, TopK: 40},
	},
	Creative: {
		Name:       "Creative",
		Emoji:      "🎨",
		StyleGuide: "I'm particularly creative and expressive, offering imaginative and detailed responses.",
		Params:     GenParams{Temperature: 0.9, TopP: 0.95, TopK: 50},
	},
	Precise: {
		Name:       "Precise",
		Emoji:      "🎯",
		StyleGuide: "I'm precise and to-the-point, focusing on accuracy and brevity.",
		Params:     GenParams{Temperature: 0.3, TopP: 0.75, TopK: 20},
	},
	Friendly: {
		Name:       "Friendly",
		Emoji:      "🤗",
		StyleGuide: "I'm warm, friendly, and conversational, like talking to a helpful friend.",
		Params:     GenParams{Temperature: 0.8, TopP: 0.9, TopK: 45},
	},
	Technical: {
		Name:       "Technical",
		Emoji:      "🔧",
		StyleGuide: "I focus on technical accuracy and detail, using appropriate terminology and structure.",
		Params:     GenParams{Temperature: 0.5, TopP: 0.85, TopK: 30},
	},
}

// Personalities returns every personality in a stable order.
func Personalities() []Personality {
	return []Personality{Balanced, Creative, Precise, Friendly, Technical}
}

// ValidPersonality reports whether s names a known personality.
func ValidPersonality(s string) bool {
	_, ok := personalities[Personality(s)]
	return ok
}

// ParamsFor returns the generation parameters of p, falling back to the
// default personality for unknown values.
func ParamsFor(p Personality) GenParams {
	info, ok := personalities[p]
	if !ok {
		info = personalities[DefaultPersonality]
	}
	return info.Params
}

// StyleGuide returns the one-line style instruction appended to the system
// prompt for p.
func StyleGuide(p Personality) string {
	info, ok := personalities[p]
	if !ok {
		info = personalities[DefaultPersonality]
	}
	return info.StyleGuide
}

// PersonalityName returns the display name of p.
func PersonalityName(p Personality) string {
	info, ok := personalities[p]
	if !ok {
		return string(p)
	}
	return info.Name
}

// PersonalityEmoji returns the emoji badge of p.
func PersonalityEmoji(p Personality) string {
	info, ok := personalities[p]
	if !ok {
		info = personalities[DefaultPersonality]
	}
	return info.Emoji
}
