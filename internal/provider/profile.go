package provider

// Profile is a sizing bucket that bounds chunk sizes, thresholds, and
// predicted output sizes used by text splitters and token estimators.
type Profile string

const (
	ProfileSmall  Profile = "small"
	ProfileMedium Profile = "medium"
	ProfileLarge  Profile = "large"
)

// ProfileBounds holds the concrete numbers a Profile implies.
type ProfileBounds struct {
	// ChunkChars is the text-splitter chunk size in characters.
	ChunkChars int
	// LargeTextThreshold is the character count above which Longread
	// switches to the outline-first MAP strategy.
	LargeTextThreshold int
	// PredictedOutputChars bounds the expected size of one model response,
	// used to size buffers and sanity-check truncation.
	PredictedOutputChars int
}

// DefaultBounds returns the stock bounds for a profile. Callers needing
// different numbers (e.g. from config) can override per model.
func DefaultBounds(p Profile) ProfileBounds {
	switch p {
	case ProfileSmall:
		return ProfileBounds{ChunkChars: 4_000, LargeTextThreshold: 12_000, PredictedOutputChars: 3_000}
	case ProfileLarge:
		return ProfileBounds{ChunkChars: 16_000, LargeTextThreshold: 60_000, PredictedOutputChars: 12_000}
	default: // ProfileMedium
		return ProfileBounds{ChunkChars: 8_000, LargeTextThreshold: 24_000, PredictedOutputChars: 6_000}
	}
}
