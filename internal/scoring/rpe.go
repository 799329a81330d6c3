package scoring

import (
	"fmt"
	"math"
	"sort"
)

const (
	MinRPE = 0
	MaxRPE = 10
)

// RPEEntry is the clinical reading of one Borg CR10 rating.
type RPEEntry struct {
	Score        float64 `json:"score" yaml:"score"`
	Category     string  `json:"category" yaml:"category"`
	ClinicalNote string  `json:"clinical_note" yaml:"clinical_note"`
}

// RPEMapping maps every integer rating 0..10 to an entry. The scores are not
// required to be monotonic: the trial protocol penalises both too little and
// too much effort.
type RPEMapping map[int]RPEEntry

// Validate reports a missing key in 0..10, an extra key, or a score outside
// [0,100].
func (m RPEMapping) Validate() error {
	if missing := m.missing(); len(missing) > 0 {
		return fmt.Errorf("%w: missing ratings %v", ErrIncompleteMappingTable, missing)
	}
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		if k < MinRPE || k > MaxRPE {
			return fmt.Errorf("%w: unexpected rating %d", ErrIncompleteMappingTable, k)
		}
		if s := m[k].Score; math.IsNaN(s) || s < 0 || s > 100 {
			return fmt.Errorf("%w: rating %d score %v outside [0,100]", ErrIncompleteMappingTable, k, s)
		}
	}
	return nil
}

func (m RPEMapping) missing() []int {
	var out []int
	for k := MinRPE; k <= MaxRPE; k++ {
		if _, ok := m[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// Clone returns an independent copy.
func (m RPEMapping) Clone() RPEMapping {
	if m == nil {
		return nil
	}
	out := make(RPEMapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MapRPE looks up rpe in table. There is no interpolation.
func MapRPE(rpe int, table RPEMapping) (RPEEntry, error) {
	if rpe < MinRPE || rpe > MaxRPE {
		return RPEEntry{}, fmt.Errorf("%w: %d outside %d..%d", ErrInvalidRPEValue, rpe, MinRPE, MaxRPE)
	}
	if missing := table.missing(); len(missing) > 0 {
		return RPEEntry{}, fmt.Errorf("%w: missing ratings %v", ErrIncompleteMappingTable, missing)
	}
	return table[rpe], nil
}

// DefaultRPEMapping is the trial's clinical safety curve: moderate effort
// (4-6) scores highest, both ends of the scale score poorly.
func DefaultRPEMapping() RPEMapping {
	return RPEMapping{
		0:  {Score: 10, Category: "no_exertion", ClinicalNote: "no_effort_recorded"},
		1:  {Score: 25, Category: "very_light", ClinicalNote: "insufficient_stimulus"},
		2:  {Score: 50, Category: "light", ClinicalNote: "below_target"},
		3:  {Score: 75, Category: "moderate_light", ClinicalNote: "approaching_target"},
		4:  {Score: 100, Category: "moderate", ClinicalNote: "optimal"},
		5:  {Score: 100, Category: "moderate", ClinicalNote: "optimal"},
		6:  {Score: 100, Category: "somewhat_hard", ClinicalNote: "optimal"},
		7:  {Score: 75, Category: "hard", ClinicalNote: "above_target"},
		8:  {Score: 50, Category: "very_hard", ClinicalNote: "excessive"},
		9:  {Score: 15, Category: "extremely_hard", ClinicalNote: "unsafe_review_protocol"},
		10: {Score: 10, Category: "maximal", ClinicalNote: "unsafe_stop_session"},
	}
}
