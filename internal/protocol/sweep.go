package protocol

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Experiment selects which parameter a sweep varies.
type Experiment int

const (
	// ExperimentKmax varies the iteration budget of both algorithms.
	ExperimentKmax Experiment = iota + 1
	// ExperimentBeta varies the ant colony heuristic weight.
	ExperimentBeta
	// ExperimentSize varies the problem shape m×n.
	ExperimentSize
)

// Experiments lists every experiment kind.
var Experiments = []Experiment{ExperimentKmax, ExperimentBeta, ExperimentSize}

func (e Experiment) String() string {
	switch e {
	case ExperimentKmax:
		return "kmax"
	case ExperimentBeta:
		return "beta"
	case ExperimentSize:
		return "size"
	}
	return fmt.Sprintf("experiment(%d)", int(e))
}

// Endpoint returns the solver path serving this experiment.
func (e Experiment) Endpoint() string {
	return fmt.Sprintf("%s%d", EndpointExperiment, int(e))
}

// ParseExperiment accepts the kind name ("kmax", "beta", "size") or its number.
func ParseExperiment(s string) (Experiment, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, e := range Experiments {
		if s == e.String() || s == fmt.Sprint(int(e)) {
			return e, nil
		}
	}
	return 0, errors.Errorf("unknown experiment %q", s)
}

// Range bounds the random values the solver generates for one matrix.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// KmaxVariant is one configuration of the kmax sweep.
type KmaxVariant struct {
	Kmax int `json:"kmax"`
}

// BetaVariant is one configuration of the beta sweep.
type BetaVariant struct {
	Beta float64 `json:"beta"`
}

// SizeVariant is one configuration of the size sweep.
type SizeVariant struct {
	M int `json:"m"`
	N int `json:"n"`
}

// SweepSpec is the editable state of one experiment screen.
type SweepSpec struct {
	Experiment Experiment `json:"-"`

	Count      int     `json:"count"`
	M          int     `json:"m"`
	N          int     `json:"n"`
	L          int     `json:"l"`
	Alpha      float64 `json:"alpha"`
	Beta       float64 `json:"beta"`
	P          float64 `json:"p"`
	Tau        float64 `json:"tau"`
	AntKmax    int     `json:"antKmax"`
	ProbKmax   int     `json:"probKmax"`
	CRange     Range   `json:"cRange"`
	BRange     Range   `json:"bRange"`
	OmegaRange Range   `json:"omegaRange"`

	KmaxVariants []KmaxVariant `json:"kmaxVariants"`
	BetaVariants []BetaVariant `json:"betaVariants"`
	SizeVariants []SizeVariant `json:"mnVariants"`
}

// DefaultSweepSpec returns the starting state of an experiment screen.
func DefaultSweepSpec(e Experiment) SweepSpec {
	spec := SweepSpec{
		Experiment: e,
		Count:      1,
		M:          10,
		N:          10,
		L:          10,
		Alpha:      1,
		Beta:       1,
		P:          0.5,
		Tau:        0.5,
		AntKmax:    100,
		ProbKmax:   100,
		CRange:     Range{Min: 1000, Max: 10000},
		BRange:     Range{Min: 100, Max: 1000},
		OmegaRange: Range{Min: 0, Max: 1},
	}
	switch e {
	case ExperimentKmax:
		spec.KmaxVariants = []KmaxVariant{{Kmax: 100}}
	case ExperimentBeta:
		spec.BetaVariants = []BetaVariant{{Beta: 1}}
	case ExperimentSize:
		spec.SizeVariants = []SizeVariant{{M: 5, N: 5}}
	}
	return spec
}

// VariantCount returns the number of variants of the spec's own experiment.
func (s *SweepSpec) VariantCount() int {
	switch s.Experiment {
	case ExperimentKmax:
		return len(s.KmaxVariants)
	case ExperimentBeta:
		return len(s.BetaVariants)
	case ExperimentSize:
		return len(s.SizeVariants)
	}
	return 0
}

// AddKmaxVariant appends k unless it is already present. It reports whether the list changed.
func (s *SweepSpec) AddKmaxVariant(k int) bool {
	for _, v := range s.KmaxVariants {
		if v.Kmax == k {
			return false
		}
	}
	s.KmaxVariants = append(s.KmaxVariants, KmaxVariant{Kmax: k})
	return true
}

// AddBetaVariant appends beta unless it is already present.
func (s *SweepSpec) AddBetaVariant(beta float64) bool {
	for _, v := range s.BetaVariants {
		if v.Beta == beta {
			return false
		}
	}
	s.BetaVariants = append(s.BetaVariants, BetaVariant{Beta: beta})
	return true
}

// AddSizeVariant appends m×n unless it is already present.
func (s *SweepSpec) AddSizeVariant(m, n int) bool {
	for _, v := range s.SizeVariants {
		if v.M == m && v.N == n {
			return false
		}
	}
	s.SizeVariants = append(s.SizeVariants, SizeVariant{M: m, N: n})
	return true
}

// RemoveVariant deletes the variant at index from the spec's own experiment list.
func (s *SweepSpec) RemoveVariant(index int) error {
	if index < 0 || index >= s.VariantCount() {
		return invalid("variant %d of %d", index, s.VariantCount())
	}
	switch s.Experiment {
	case ExperimentKmax:
		s.KmaxVariants = append(s.KmaxVariants[:index:index], s.KmaxVariants[index+1:]...)
	case ExperimentBeta:
		s.BetaVariants = append(s.BetaVariants[:index:index], s.BetaVariants[index+1:]...)
	case ExperimentSize:
		s.SizeVariants = append(s.SizeVariants[:index:index], s.SizeVariants[index+1:]...)
	}
	return nil
}

// Validate checks the fields shared by every experiment plus the variant list.
func (s *SweepSpec) Validate() error {
	if s.Count < 1 || s.Count > 1000 {
		return invalid("count must be in [1,1000], got %d", s.Count)
	}
	for name, r := range map[string]Range{"cRange": s.CRange, "bRange": s.BRange, "omegaRange": s.OmegaRange} {
		if !nonNegative(r.Min) || !nonNegative(r.Max) || r.Min > r.Max {
			return invalid("%s must satisfy 0 <= min <= max, got [%v, %v]", name, r.Min, r.Max)
		}
	}
	if !inUnit(s.P) {
		return invalid("p must be in [0,1], got %v", s.P)
	}
	if !nonNegative(s.Tau) {
		return invalid("tau must be >= 0, got %v", s.Tau)
	}
	if s.L < 1 {
		return invalid("l must be >= 1, got %d", s.L)
	}
	if s.VariantCount() == 0 {
		return invalid("%s sweep needs at least one variant", s.Experiment)
	}

	switch s.Experiment {
	case ExperimentKmax:
		for _, v := range s.KmaxVariants {
			if v.Kmax < 1 {
				return invalid("kmax variant must be >= 1, got %d", v.Kmax)
			}
		}
		return s.validateShape()
	case ExperimentBeta:
		for _, v := range s.BetaVariants {
			if !nonNegative(v.Beta) {
				return invalid("beta variant must be >= 0, got %v", v.Beta)
			}
		}
		if s.AntKmax < 1 {
			return invalid("antKmax must be >= 1, got %d", s.AntKmax)
		}
		return s.validateShape()
	case ExperimentSize:
		for _, v := range s.SizeVariants {
			if v.M < 1 || v.N < 1 {
				return invalid("size variant must be at least 1x1, got %dx%d", v.M, v.N)
			}
		}
		if s.AntKmax < 1 || s.ProbKmax < 1 {
			return invalid("antKmax and probKmax must be >= 1, got %d and %d", s.AntKmax, s.ProbKmax)
		}
		return nil
	}
	return invalid("unknown experiment %s", s.Experiment)
}

func (s *SweepSpec) validateShape() error {
	if s.M < 1 || s.N < 1 {
		return invalid("m and n must be >= 1, got %dx%d", s.M, s.N)
	}
	return nil
}

// KmaxSweepRequest is sent to the kmax experiment endpoint.
type KmaxSweepRequest struct {
	Count        int           `json:"count"`
	N            int           `json:"n"`
	M            int           `json:"m"`
	KmaxVariants []KmaxVariant `json:"kmaxVariants"`
	L            int           `json:"l"`
	P            float64       `json:"p"`
	Tau          float64       `json:"tau"`
	Alpha        float64       `json:"alpha"`
	Beta         float64       `json:"beta"`
	CRange       Range         `json:"cRange"`
	BRange       Range         `json:"bRange"`
	OmegaRange   Range         `json:"omegaRange"`
}

// BetaSweepRequest is sent to the beta experiment endpoint.
type BetaSweepRequest struct {
	Count        int           `json:"count"`
	BetaVariants []BetaVariant `json:"betaVariants"`
	P            float64       `json:"p"`
	Tau          float64       `json:"tau"`
	Alpha        float64       `json:"alpha"`
	CRange       Range         `json:"cRange"`
	BRange       Range         `json:"bRange"`
	OmegaRange   Range         `json:"omegaRange"`
	AntKmax      int           `json:"antKmax"`
	M            int           `json:"m"`
	N            int           `json:"n"`
	L            int           `json:"l"`
}

// SizeSweepRequest is sent to the size experiment endpoint.
type SizeSweepRequest struct {
	Count      int           `json:"count"`
	MNVariants []SizeVariant `json:"mnVariants"`
	P          float64       `json:"p"`
	Tau        float64       `json:"tau"`
	CRange     Range         `json:"cRange"`
	BRange     Range         `json:"bRange"`
	OmegaRange Range         `json:"omegaRange"`
	ProbKmax   int           `json:"probKmax"`
	AntKmax    int           `json:"antKmax"`
	L          int           `json:"l"`
}

// BuildSweepRequest validates spec and returns the payload for its experiment's endpoint.
// Variant slices are copied so later edits to spec do not leak into the request.
func BuildSweepRequest(spec SweepSpec) (interface{}, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	switch spec.Experiment {
	case ExperimentKmax:
		return &KmaxSweepRequest{
			Count:        spec.Count,
			N:            spec.N,
			M:            spec.M,
			KmaxVariants: append([]KmaxVariant(nil), spec.KmaxVariants...),
			L:            spec.L,
			P:            spec.P,
			Tau:          spec.Tau,
			Alpha:        spec.Alpha,
			Beta:         spec.Beta,
			CRange:       spec.CRange,
			BRange:       spec.BRange,
			OmegaRange:   spec.OmegaRange,
		}, nil
	case ExperimentBeta:
		return &BetaSweepRequest{
			Count:        spec.Count,
			BetaVariants: append([]BetaVariant(nil), spec.BetaVariants...),
			P:            spec.P,
			Tau:          spec.Tau,
			Alpha:        spec.Alpha,
			CRange:       spec.CRange,
			BRange:       spec.BRange,
			OmegaRange:   spec.OmegaRange,
			AntKmax:      spec.AntKmax,
			M:            spec.M,
			N:            spec.N,
			L:            spec.L,
		}, nil
	default:
		return &SizeSweepRequest{
			Count:      spec.Count,
			MNVariants: append([]SizeVariant(nil), spec.SizeVariants...),
			P:          spec.P,
			Tau:        spec.Tau,
			CRange:     spec.CRange,
			BRange:     spec.BRange,
			OmegaRange: spec.OmegaRange,
			ProbKmax:   spec.ProbKmax,
			AntKmax:    spec.AntKmax,
			L:          spec.L,
		}, nil
	}
}
