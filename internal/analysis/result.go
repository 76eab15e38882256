package analysis

import "time"

// RiskLevel is the coarse bucket derived from a risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Score bands mapping a raw rule score to a risk level, and the floor a
// high-risk score is corrected up to after banding.
const (
	HighBand       = 50
	MediumBand     = 25
	HighScoreFloor = 75
)

// IndicatorID identifies one of the seven canonical scam signal categories.
type IndicatorID string

const (
	IndImpersonation IndicatorID = "impersonation"
	IndUrgency       IndicatorID = "urgency"
	IndEmotional     IndicatorID = "emotional"
	IndAuthority     IndicatorID = "authority"
	IndOTPRequest    IndicatorID = "otp_request"
	IndMoneyRequest  IndicatorID = "money_request"
	IndVoicePattern  IndicatorID = "voice_pattern"
)

// CanonicalIndicators is the fixed indicator order every result carries.
var CanonicalIndicators = []IndicatorID{
	IndImpersonation,
	IndUrgency,
	IndEmotional,
	IndAuthority,
	IndOTPRequest,
	IndMoneyRequest,
	IndVoicePattern,
}

// Indicator reports whether one scam signal category was detected.
type Indicator struct {
	ID         IndicatorID `json:"id"`
	Type       IndicatorID `json:"type"`
	Detected   bool        `json:"detected"`
	Confidence float64     `json:"confidence"`
	Evidence   string      `json:"evidence,omitempty"`
}

// Result is one complete risk assessment over a transcript snapshot.
// Instances are treated as immutable once produced.
type Result struct {
	RiskLevel  RiskLevel   `json:"riskLevel"`
	RiskScore  int         `json:"riskScore"`
	Indicators []Indicator `json:"indicators"`
	Guidance   []string    `json:"guidance"`
	Timestamp  time.Time   `json:"timestamp"`
	Transcript string      `json:"transcript,omitempty"`
}

// LevelForScore maps a raw score to its risk level band.
func LevelForScore(raw int) RiskLevel {
	switch {
	case raw >= HighBand:
		return RiskHigh
	case raw >= MediumBand:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Normalize enforces the result invariants every producer must satisfy:
// the score is clamped to [0,100], the indicator list is rebuilt to contain
// exactly the seven canonical entries in stable order (missing ids backfilled
// as not detected, duplicates dropped), and a high risk level floors the
// score to HighScoreFloor. The input is not modified.
func Normalize(r Result) Result {
	if r.RiskScore < 0 {
		r.RiskScore = 0
	}
	if r.RiskScore > 100 {
		r.RiskScore = 100
	}

	switch r.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		r.RiskLevel = LevelForScore(r.RiskScore)
	}

	byID := make(map[IndicatorID]Indicator, len(r.Indicators))
	for _, ind := range r.Indicators {
		if _, seen := byID[ind.ID]; seen {
			continue
		}
		byID[ind.ID] = ind
	}

	normalized := make([]Indicator, 0, len(CanonicalIndicators))
	for _, id := range CanonicalIndicators {
		ind, ok := byID[id]
		if !ok {
			ind = Indicator{ID: id, Type: id}
		}
		ind.Type = id
		if ind.Confidence < 0 {
			ind.Confidence = 0
		}
		if ind.Confidence > 1 {
			ind.Confidence = 1
		}
		if !ind.Detected {
			ind.Confidence = 0
			ind.Evidence = ""
		}
		normalized = append(normalized, ind)
	}
	r.Indicators = normalized

	if r.RiskLevel == RiskHigh && r.RiskScore < HighScoreFloor {
		r.RiskScore = HighScoreFloor
	}

	if len(r.Guidance) == 0 {
		r.Guidance = []string{"Stay alert and avoid sharing personal information."}
	}

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	return r
}

// NeutralDefault is the safe assessment returned when a classifier response
// cannot be decoded or validated. Guidance is intentionally fixed rather than
// localized so the caller always has something to show.
func NeutralDefault() Result {
	return Normalize(Result{
		RiskLevel: RiskMedium,
		RiskScore: 50,
		Guidance:  []string{"Unable to fully analyze. Please be cautious."},
	})
}

// Baseline is the neutral low-risk result a monitoring session starts with.
func Baseline(guidance []string) Result {
	if len(guidance) == 0 {
		guidance = []string{"No risk detected yet."}
	}
	return Normalize(Result{
		RiskLevel: RiskLow,
		RiskScore: 0,
		Guidance:  guidance,
	})
}
