package layout

// Flag is a QA annotation code attached to a segment.
type Flag string

const (
	FlagEmptyTranslation          Flag = "empty_translation"
	FlagLengthExplosion           Flag = "length_explosion"
	FlagUntranslatedPlaceholder   Flag = "untranslated_placeholder"
	FlagLowConfidence             Flag = "low_confidence"
	FlagBackgroundIsolationFailed Flag = "background_isolation_failed"
	FlagTranslationFailed         Flag = "translation_failed"
)

// Flags is an ordered set of flag codes; insertion order is kept.
type Flags []Flag

// Has reports whether f is present.
func (fs Flags) Has(f Flag) bool {
	for _, x := range fs {
		if x == f {
			return true
		}
	}
	return false
}

// Add returns fs with f appended unless already present.
func (fs Flags) Add(f Flag) Flags {
	if fs.Has(f) {
		return fs
	}
	return append(fs, f)
}

// Merge appends every flag of other not yet in fs.
func (fs Flags) Merge(other Flags) Flags {
	for _, f := range other {
		fs = fs.Add(f)
	}
	return fs
}

// Strings converts the set for storage.
func (fs Flags) Strings() []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = string(f)
	}
	return out
}

// FlagsFromStrings is the inverse of Strings, dropping duplicates.
func FlagsFromStrings(ss []string) Flags {
	var fs Flags
	for _, s := range ss {
		fs = fs.Add(Flag(s))
	}
	return fs
}
