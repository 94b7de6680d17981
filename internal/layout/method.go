package layout

import "encoding/json"

// MethodKind is the stored tag of a translation method.
type MethodKind string

const (
	KindGlossary MethodKind = "glossary"
	KindMemory   MethodKind = "tm"
	KindMachine  MethodKind = "mt"
)

// Method says where a translation came from. The set of implementations is
// closed: GlossaryOverride, MemoryMatch and MachineTranslation.
type Method interface {
	Kind() MethodKind
	sealed()
}

// GlossaryOverride means one or more glossary terms were substituted in place.
type GlossaryOverride struct {
	Terms []string `json:"terms"`
}

// MemoryMatch means the text was served verbatim from translation memory.
type MemoryMatch struct {
	EntryID    string  `json:"entry_id"`
	MatchScore float64 `json:"match_score"`
}

// MachineTranslation means the MT provider was called. Failed is set when the
// provider gave up and the source text was kept.
type MachineTranslation struct {
	Provider string `json:"provider"`
	Failed   bool   `json:"failed"`
}

func (GlossaryOverride) Kind() MethodKind   { return KindGlossary }
func (MemoryMatch) Kind() MethodKind        { return KindMemory }
func (MachineTranslation) Kind() MethodKind { return KindMachine }

func (GlossaryOverride) sealed()   {}
func (MemoryMatch) sealed()        {}
func (MachineTranslation) sealed() {}

// Translation is the resolver's output for one segment.
type Translation struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Method     Method  `json:"-"`
}

// TMMatchScore returns the memory match score; ok is false for other methods.
func (t Translation) TMMatchScore() (score float64, ok bool) {
	if m, isTM := t.Method.(MemoryMatch); isTM {
		return m.MatchScore, true
	}
	return 0, false
}

// MethodRecord is the flattened form of a Method used by stores.
type MethodRecord struct {
	Kind       MethodKind `json:"kind"`
	Terms      []string   `json:"terms,omitempty"`
	EntryID    string     `json:"entry_id,omitempty"`
	MatchScore *float64   `json:"match_score,omitempty"`
	Provider   string     `json:"provider,omitempty"`
	Failed     bool       `json:"failed,omitempty"`
}

// RecordOf flattens m.
func RecordOf(m Method) MethodRecord {
	switch v := m.(type) {
	case GlossaryOverride:
		return MethodRecord{Kind: KindGlossary, Terms: v.Terms}
	case MemoryMatch:
		score := v.MatchScore
		return MethodRecord{Kind: KindMemory, EntryID: v.EntryID, MatchScore: &score}
	case MachineTranslation:
		return MethodRecord{Kind: KindMachine, Provider: v.Provider, Failed: v.Failed}
	default:
		return MethodRecord{}
	}
}

// Method rebuilds the variant. Unknown kinds yield nil.
func (r MethodRecord) Method() Method {
	switch r.Kind {
	case KindGlossary:
		return GlossaryOverride{Terms: r.Terms}
	case KindMemory:
		m := MemoryMatch{EntryID: r.EntryID}
		if r.MatchScore != nil {
			m.MatchScore = *r.MatchScore
		}
		return m
	case KindMachine:
		return MachineTranslation{Provider: r.Provider, Failed: r.Failed}
	default:
		return nil
	}
}

type translationJSON struct {
	Text       string       `json:"text"`
	Confidence float64      `json:"confidence"`
	Method     MethodRecord `json:"method"`
}

// MarshalJSON encodes the method variant as a tagged record.
func (t Translation) MarshalJSON() ([]byte, error) {
	return json.Marshal(translationJSON{Text: t.Text, Confidence: t.Confidence, Method: RecordOf(t.Method)})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (t *Translation) UnmarshalJSON(data []byte) error {
	var raw translationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Text = raw.Text
	t.Confidence = raw.Confidence
	t.Method = raw.Method.Method()
	return nil
}
