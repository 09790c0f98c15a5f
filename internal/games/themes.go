package games

// Symbol positions every theme agrees on: index 0 is the seven, index 1 is
// the penalty symbol. The rest of the strip is theme flavor.
const (
	SymbolSeven = "7"
	SymbolBad   = "❌"
)

// Theme is a slot machine's symbol strip and flavor text.
type Theme struct {
	Name        string
	Symbols     []string
	LoseMessage string
}

var (
	Hellfire = Theme{
		Name:        "Hellfire",
		Symbols:     []string{"7", "❌", "👹", "👿", "🔥", "💀", "🌋", "⚰️"},
		LoseMessage: "Soul not worthy!",
	}

	OceanDeep = Theme{
		Name:        "Ocean Deep",
		Symbols:     []string{"7", "❌", "🐙", "🐠", "🐳", "🦀", "⚓", "🔱", "🐡"},
		LoseMessage: "The depths claim your gold!",
	}

	JungleFever = Theme{
		Name:        "Jungle Fever",
		Symbols:     []string{"7", "❌", "🐒", "🐍", "🌴", "🍌", "🌺", "🐯", "🦜"},
		LoseMessage: "Lost in the jungle!",
	}

	CosmicVoid = Theme{
		Name:        "Cosmic Void",
		Symbols:     []string{"7", "❌", "👽", "🚀", "⭐", "🪐", "☄️", "🌌", "🛸"},
		LoseMessage: "Sucked into the void!",
	}
)

// Themes returns the built-in theme roster.
func Themes() []Theme {
	return []Theme{Hellfire, OceanDeep, JungleFever, CosmicVoid}
}
