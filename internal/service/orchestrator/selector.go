package orchestrator

import (
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/models"
)

// TemplateSelector picks the template and prompt for the next work unit of
// a tier. It is a pure strategy supplied by the caller; used carries the
// template IDs already consumed by this batch so a selector can avoid
// repeats while alternatives exist.
type TemplateSelector func(tier models.Tier, used []string) (templateID, prompt string)

// Template is one entry of the built-in prompt library.
type Template struct {
	ID     string
	Prompt string
}

// defaultLibrary mirrors the production template catalog shape: a handful
// of looks per monetization tier.
var defaultLibrary = map[models.Tier][]Template{
	models.TierBasic: {
		{ID: "basic-golden-hour", Prompt: "candid street portrait, golden hour, natural lighting, medium shot, relaxed pose"},
		{ID: "basic-coffee-shop", Prompt: "cozy coffee shop, window light, casual outfit, warm tones, candid smile"},
		{ID: "basic-morning-gym", Prompt: "morning gym session, athletic wear, energetic pose, bright lighting"},
		{ID: "basic-beach-walk", Prompt: "beach walk at sunset, flowing dress, wide shot, soft backlight"},
	},
	models.TierPremium: {
		{ID: "premium-studio-glam", Prompt: "studio glamour portrait, dramatic lighting, elegant evening wear, close-up"},
		{ID: "premium-rooftop-night", Prompt: "rooftop at night, city lights bokeh, cocktail dress, confident pose"},
		{ID: "premium-poolside", Prompt: "luxury poolside, swimwear, midday sun, editorial framing"},
	},
	models.TierCustom: {
		{ID: "custom-freeform", Prompt: "bespoke concept shoot, art direction per subscriber request"},
	},
}

// DefaultSelector cycles through the built-in library for a tier, never
// repeating a template while unused alternatives remain.
func DefaultSelector(tier models.Tier, used []string) (string, string) {
	templates := defaultLibrary[tier]
	if len(templates) == 0 {
		templates = defaultLibrary[models.TierBasic]
	}

	usedSet := make(map[string]bool, len(used))
	for _, id := range used {
		usedSet[id] = true
	}

	for _, t := range templates {
		if !usedSet[t.ID] {
			return t.ID, t.Prompt
		}
	}

	// All templates consumed; wrap around.
	t := templates[len(used)%len(templates)]
	return t.ID, t.Prompt
}
