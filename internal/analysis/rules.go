package analysis

import "strings"

// matchConfidence is the fixed confidence assigned to an indicator whose
// rule matched at least one keyword.
const matchConfidence = 0.85

// PatternRule scores one indicator category by keyword containment.
// Keywords are OR-combined: any single match detects the category.
type PatternRule struct {
	ID       IndicatorID
	Keywords []string
	Weight   int
}

// rules is the canonical scoring table. Keywords are lower case; matching is
// substring containment against the normalized transcript. voice_pattern has
// no rule and is always reported as not detected.
var rules = []PatternRule{
	{
		ID: IndImpersonation,
		Keywords: []string{
			"calling from your bank",
			"i am calling from",
			"this is your bank",
			"bank security team",
			"calling from microsoft",
			"technical support team",
			"customer care executive",
			"your service provider",
		},
		Weight: 20,
	},
	{
		ID: IndUrgency,
		Keywords: []string{
			"immediately",
			"urgent",
			"right now",
			"will be blocked",
			"will be suspended",
			"within 24 hours",
			"last warning",
			"act now",
			"before it's too late",
		},
		Weight: 15,
	},
	{
		ID: IndEmotional,
		Keywords: []string{
			"don't tell anyone",
			"do not tell anyone",
			"keep this confidential",
			"you will be arrested",
			"you are in trouble",
			"family emergency",
			"your son is",
			"your daughter is",
		},
		Weight: 10,
	},
	{
		ID: IndAuthority,
		Keywords: []string{
			"police",
			"arrest warrant",
			"court order",
			"income tax department",
			"tax department",
			"government agency",
			"legal action",
			"customs office",
			"cyber cell",
		},
		Weight: 15,
	},
	{
		ID: IndOTPRequest,
		Keywords: []string{
			"otp",
			"one time password",
			"one-time password",
			"verification code",
			"security code",
			"cvv",
			"card number",
			"pin number",
			"share the code",
		},
		Weight: 30,
	},
	{
		ID: IndMoneyRequest,
		Keywords: []string{
			"transfer money",
			"send money",
			"gift card",
			"wire transfer",
			"bank transfer",
			"processing fee",
			"advance payment",
			"bitcoin",
			"upi id",
			"refund amount",
		},
		Weight: 25,
	},
}

// Rules returns a copy of the canonical scoring table.
func Rules() []PatternRule {
	out := make([]PatternRule, len(rules))
	copy(out, rules)
	return out
}

// Normalize lower-cases and trims a raw transcript for rule matching.
func NormalizeTranscript(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Score evaluates the normalized transcript against the rule table. The raw
// score is the sum of the weights of matched rules, capped at 100. The
// returned indicator list always contains all seven canonical entries in
// stable order. Score is pure: no I/O, same input, same output.
func Score(normalized string) (int, []Indicator) {
	raw := 0
	detected := make(map[IndicatorID]bool, len(rules))
	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(normalized, kw) {
				raw += rule.Weight
				detected[rule.ID] = true
				break
			}
		}
	}
	if raw > 100 {
		raw = 100
	}

	indicators := make([]Indicator, 0, len(CanonicalIndicators))
	for _, id := range CanonicalIndicators {
		ind := Indicator{ID: id, Type: id}
		if detected[id] {
			ind.Detected = true
			ind.Confidence = matchConfidence
		}
		indicators = append(indicators, ind)
	}
	return raw, indicators
}

// RuleResult runs the rule engine over a raw transcript and assembles a
// normalized Result. The guidance lookup receives the derived risk level and
// may be nil, in which case Normalize backfills a generic string.
func RuleResult(transcript string, guidance func(RiskLevel) []string) Result {
	raw, indicators := Score(NormalizeTranscript(transcript))
	level := LevelForScore(raw)
	var strs []string
	if guidance != nil {
		strs = guidance(level)
	}
	return Normalize(Result{
		RiskLevel:  level,
		RiskScore:  raw,
		Indicators: indicators,
		Guidance:   strs,
	})
}
