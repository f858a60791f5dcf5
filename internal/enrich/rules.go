package enrich

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Rules holds both providers' classification tables.
type Rules struct {
	Lusha  ProviderRules `yaml:"lusha"`
	Apollo ProviderRules `yaml:"apollo"`
}

// ProviderRules maps one provider's phone type tags onto the mobile and
// direct-dial columns, with a confidence ranking to break multi-candidate
// categories. Tags are matched case-insensitively; unknown confidence
// values rank 0.
type ProviderRules struct {
	MobileTypes     []string       `yaml:"mobile_types"`
	DirectTypes     []string       `yaml:"direct_types"`
	ConfidenceRanks map[string]int `yaml:"-"`
}

// DefaultRules returns the built-in classification tables.
func DefaultRules() Rules {
	return Rules{
		Lusha: ProviderRules{
			MobileTypes: []string{"mobile"},
			DirectTypes: []string{"directdial", "landline"},
		},
		Apollo: ProviderRules{
			MobileTypes: []string{"mobile"},
			DirectTypes: []string{"work_direct", "direct_dial", "work_hq", "other"},
			ConfidenceRanks: map[string]int{
				"very_high": 4,
				"high":      3,
				"medium":    2,
				"low":       1,
			},
		},
	}
}

// LoadRules reads a rules override file. Only non-empty type sets replace
// the built-ins, so providers can rename their tags without a rebuild;
// confidence ranks are not overridable.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()

	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, eris.Wrapf(err, "enrich: read rules %s", path)
	}

	// The YAML has a top-level "rules" key
	var wrapper struct {
		Rules Rules `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return Rules{}, eris.Wrap(err, "enrich: parse rules")
	}

	applyOverride(&rules.Lusha, wrapper.Rules.Lusha)
	applyOverride(&rules.Apollo, wrapper.Rules.Apollo)
	return rules, nil
}

func applyOverride(dst *ProviderRules, src ProviderRules) {
	if len(src.MobileTypes) > 0 {
		dst.MobileTypes = src.MobileTypes
	}
	if len(src.DirectTypes) > 0 {
		dst.DirectTypes = src.DirectTypes
	}
}
