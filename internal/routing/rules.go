package routing

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// IntentCodes is the closed set of intent codes a classification may carry.
// Codes without a configured rule route through the default intent.
var IntentCodes = []string{
	"cash_balance",
	"position_summary",
	"trade_status",
	"settlement_eta",
	"failed_trade_investigation",
	"trade_amendment_request",
	"account_closure_request",
	"sanctions_review_query",
	"corporate_action_instruction",
	"fee_dispute",
	"investment_advice_request",
	"portfolio_rebalancing_advice",
	"risk_profile_review",
	"tax_withholding_query",
	"tax_document_request",
	"capital_gains_tax_query",
	"platform_access_issue",
	"password_reset_request",
	"api_connectivity_issue",
}

// KnownIntent reports whether code belongs to IntentCodes.
func KnownIntent(code string) bool {
	for _, c := range IntentCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Rule is the static routing configuration of one intent.
type Rule struct {
	IntentCode          string `yaml:"code"`
	IntentName          string `yaml:"name"`
	DirectDataAvailable bool   `yaml:"direct_data_available"`
	DefaultMultiDesk    bool   `yaml:"default_multi_desk"`
	PrimaryDesk         string `yaml:"primary_desk"`
	Template            string `yaml:"auto_response_template"`

	tmpl *template.Template
}

// TemplateData is what a rule's canned response template can reference.
type TemplateData struct {
	ClientName string
	IntentName string
	Answer     string
}

// Render executes the rule's canned response template.
func (r Rule) Render(data TemplateData) (string, error) {
	if r.tmpl == nil {
		return r.Template, nil
	}
	var sb strings.Builder
	if err := r.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render template for %s: %w", r.IntentCode, err)
	}
	return sb.String(), nil
}

// RulesConfig is the YAML document describing the rule table.
type RulesConfig struct {
	DefaultIntent      string              `yaml:"default_intent"`
	Intents            []Rule              `yaml:"intents"`
	MultiDeskSequences map[string][]string `yaml:"multi_desk_sequences"`
}

// RuleTable resolves intent codes to routing rules.
type RuleTable struct {
	defaultIntent string
	rules         map[string]Rule
	sequences     map[string][]string
}

// LoadRules parses the rule file at path, or the embedded defaults when path is empty.
func LoadRules(path string) (*RuleTable, error) {
	data := defaultRulesYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("rules: read %s: %w", path, err)
		}
		data = b
	}

	var cfg RulesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("rules: parse: %w", err)
	}
	return NewRuleTable(cfg)
}

// NewRuleTable validates cfg and builds the lookup table.
func NewRuleTable(cfg RulesConfig) (*RuleTable, error) {
	t := &RuleTable{
		defaultIntent: cfg.DefaultIntent,
		rules:         make(map[string]Rule, len(cfg.Intents)),
		sequences:     cfg.MultiDeskSequences,
	}
	for _, r := range cfg.Intents {
		if r.IntentCode == "" || r.PrimaryDesk == "" {
			return nil, fmt.Errorf("rules: intent %q needs a code and a primary desk", r.IntentCode)
		}
		if _, dup := t.rules[r.IntentCode]; dup {
			return nil, fmt.Errorf("rules: duplicate intent %q", r.IntentCode)
		}
		if r.Template != "" {
			tmpl, err := template.New(r.IntentCode).Option("missingkey=error").Parse(r.Template)
			if err != nil {
				return nil, fmt.Errorf("rules: template for %s: %w", r.IntentCode, err)
			}
			r.tmpl = tmpl
		}
		t.rules[r.IntentCode] = r
	}
	if _, ok := t.rules[t.defaultIntent]; !ok {
		return nil, fmt.Errorf("rules: %w: %q", ErrNoDefaultRule, t.defaultIntent)
	}
	return t, nil
}

// DefaultIntent is the intent used for drift and low-confidence classifications.
func (t *RuleTable) DefaultIntent() string {
	return t.defaultIntent
}

// RuleFor returns the rule for code, falling back to the default intent's rule.
func (t *RuleTable) RuleFor(code string) Rule {
	if r, ok := t.rules[code]; ok {
		return r
	}
	return t.rules[t.defaultIntent]
}

// Sequence returns the configured multi-desk desk codes for an intent.
func (t *RuleTable) Sequence(code string) []string {
	return t.sequences[code]
}

// Rules returns every configured rule.
func (t *RuleTable) Rules() []Rule {
	out := make([]Rule, 0, len(t.rules))
	for _, r := range t.rules {
		out = append(out, r)
	}
	return out
}
