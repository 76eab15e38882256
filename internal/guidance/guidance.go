package guidance

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/guardline-ai/guardline-core/internal/analysis"
	"github.com/guardline-ai/guardline-core/internal/config"
)

// Provider resolves localized guidance strings for a risk level. It is an
// injected lookup table: the analysis core never owns guidance wording.
type Provider struct {
	defaultLang string
	tables      map[string]map[analysis.RiskLevel][]string
}

// builtin carries the guidance shipped with the binary. Additional languages
// or overrides are merged from an optional YAML file at load time.
var builtin = map[string]map[analysis.RiskLevel][]string{
	"en": {
		analysis.RiskLow: {
			"No scam signals detected so far.",
			"Stay attentive and never share personal details you were not expecting to give.",
		},
		analysis.RiskMedium: {
			"Some caution signals were detected in this call.",
			"Do not share OTPs, PINs, or card details with the caller.",
			"Verify the caller's identity through an official channel before acting.",
		},
		analysis.RiskHigh: {
			"This call shows strong signs of a scam.",
			"Hang up now. Do not share any codes or make any payments.",
			"Contact your bank or the claimed organization directly using a trusted number.",
		},
	},
	"hi": {
		analysis.RiskLow: {
			"अभी तक कोई धोखाधड़ी के संकेत नहीं मिले हैं।",
			"सतर्क रहें और व्यक्तिगत जानकारी साझा न करें।",
		},
		analysis.RiskMedium: {
			"इस कॉल में कुछ सावधानी के संकेत मिले हैं।",
			"OTP, PIN या कार्ड विवरण साझा न करें।",
			"कार्रवाई से पहले आधिकारिक माध्यम से कॉलर की पहचान सत्यापित करें।",
		},
		analysis.RiskHigh: {
			"यह कॉल धोखाधड़ी के स्पष्ट संकेत दिखाती है।",
			"तुरंत कॉल काट दें। कोई कोड साझा न करें और कोई भुगतान न करें।",
			"विश्वसनीय नंबर से अपने बैंक या संबंधित संस्था से संपर्क करें।",
		},
	},
}

// overridesFile is the YAML shape of a guidance overrides file:
// language code → risk level → list of strings.
type overridesFile map[string]map[string][]string

// Load builds a Provider from the built-in tables plus any overrides file
// named in cfg. Overrides replace whole (language, level) entries.
func Load(cfg config.GuidanceConfig) (*Provider, error) {
	tables := make(map[string]map[analysis.RiskLevel][]string, len(builtin))
	for lang, levels := range builtin {
		copied := make(map[analysis.RiskLevel][]string, len(levels))
		for level, strs := range levels {
			copied[level] = append([]string(nil), strs...)
		}
		tables[lang] = copied
	}

	if cfg.OverridesPath != "" {
		data, err := os.ReadFile(cfg.OverridesPath)
		if err != nil {
			return nil, fmt.Errorf("read guidance overrides: %w", err)
		}
		var overrides overridesFile
		if err := yaml.Unmarshal(data, &overrides); err != nil {
			return nil, fmt.Errorf("parse guidance overrides: %w", err)
		}
		for lang, levels := range overrides {
			if tables[lang] == nil {
				tables[lang] = make(map[analysis.RiskLevel][]string, len(levels))
			}
			for level, strs := range levels {
				if len(strs) == 0 {
					continue
				}
				tables[lang][analysis.RiskLevel(level)] = append([]string(nil), strs...)
			}
		}
	}

	defaultLang := cfg.DefaultLanguage
	if defaultLang == "" {
		defaultLang = "en"
	}
	if _, ok := tables[defaultLang]; !ok {
		return nil, fmt.Errorf("no guidance table for default language %q", defaultLang)
	}

	return &Provider{defaultLang: defaultLang, tables: tables}, nil
}

// For returns the guidance strings for a risk level and language code.
// Unknown languages fall back to the default language, unknown levels to low.
// The result is never empty and is a copy callers may retain.
func (p *Provider) For(level analysis.RiskLevel, lang string) []string {
	table, ok := p.tables[lang]
	if !ok {
		table = p.tables[p.defaultLang]
	}
	strs, ok := table[level]
	if !ok || len(strs) == 0 {
		strs = table[analysis.RiskLow]
	}
	if len(strs) == 0 {
		// Last resort when an overrides file emptied the table.
		strs = builtin["en"][analysis.RiskLow]
	}
	return append([]string(nil), strs...)
}
