package manifest

// Level is a declared OSSA conformance level.
type Level string

const (
	LevelBronze Level = "bronze"
	LevelSilver Level = "silver"
	LevelGold   Level = "gold"
)

// Levels returns all conformance levels in ascending order.
func Levels() []Level {
	return []Level{LevelBronze, LevelSilver, LevelGold}
}

// Valid reports whether l is a recognized conformance level.
func (l Level) Valid() bool {
	switch l {
	case LevelBronze, LevelSilver, LevelGold:
		return true
	}
	return false
}

// Rank returns the ordinal of the level for comparisons.
// Unknown levels rank below bronze.
func (l Level) Rank() int {
	switch l {
	case LevelBronze:
		return 1
	case LevelSilver:
		return 2
	case LevelGold:
		return 3
	}
	return 0
}

// AtLeast reports whether l meets or exceeds other.
func (l Level) AtLeast(other Level) bool {
	return l.Rank() >= other.Rank()
}

// LevelOrDefault returns the declared level, defaulting to bronze when
// the manifest declares none.
func (c Conformance) LevelOrDefault() Level {
	if c.Level.Valid() {
		return c.Level
	}
	return LevelBronze
}
