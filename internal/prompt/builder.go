// Package prompt renders the analysis, planning and synthesis prompts sent to
// the model.
package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/irfndi/tradepilot/internal/models"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// ToolDescription is what the model is told about one available tool.
type ToolDescription struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolOutput is one successful tool result handed to the synthesis prompt.
type ToolOutput struct {
	Name     string
	Provider string
	Data     json.RawMessage
}

// AnalysisContext carries everything a template may reference.
type AnalysisContext struct {
	Opportunity    *models.Opportunity
	Strategy       *models.TradingStrategyConfig
	Profile        *models.AIProfile
	Tools          []ToolDescription
	PaperThreshold float64
	RealThreshold  float64
	MaxToolCalls   int
	ToolOutputs    []ToolOutput
	// MarketContext is free-form indicator context for direct analysis.
	MarketContext string
}

// Builder renders prompts. Profile templates are parsed per call since they
// come from user-editable configuration.
type Builder struct {
	funcMap   template.FuncMap
	analysis  *template.Template
	plan      *template.Template
	synthesis *template.Template
}

func NewBuilder() *Builder {
	funcMap := template.FuncMap{
		"upper":  strings.ToUpper,
		"lower":  strings.ToLower,
		"title":  func(s any) string { return titleCaser.String(strings.ReplaceAll(fmt.Sprint(s), "_", " ")) },
		"json":   toJSON,
		"dec":    formatDecimal,
		"pct":    func(f float64) string { return fmt.Sprintf("%.0f%%", f*100) },
		"params": sortedParams,
	}
	return &Builder{
		funcMap:   funcMap,
		analysis:  template.Must(template.New("analysis").Funcs(funcMap).Parse(defaultAnalysisTemplate)),
		plan:      template.Must(template.New("plan").Funcs(funcMap).Parse(planTemplate)),
		synthesis: template.Must(template.New("synthesis").Funcs(funcMap).Parse(synthesisTemplate)),
	}
}

// BuildAnalysis renders the profile's template, or the default one.
func (b *Builder) BuildAnalysis(ctx AnalysisContext) (string, error) {
	if err := validate(ctx); err != nil {
		return "", err
	}
	tmpl := b.analysis
	if ctx.Profile != nil && strings.TrimSpace(ctx.Profile.PromptTemplate) != "" {
		custom, err := template.New("profile").Funcs(b.funcMap).Parse(ctx.Profile.PromptTemplate)
		if err != nil {
			return "", fmt.Errorf("invalid prompt template for profile %s: %w", ctx.Profile.ID, err)
		}
		tmpl = custom
	}
	return render(tmpl, ctx)
}

// BuildPlan asks for a tool plan on top of the analysis context.
func (b *Builder) BuildPlan(ctx AnalysisContext) (string, error) {
	base, err := b.BuildAnalysis(ctx)
	if err != nil {
		return "", err
	}
	plan, err := render(b.plan, ctx)
	if err != nil {
		return "", err
	}
	return base + "\n\n" + plan, nil
}

// BuildSynthesis asks for the final recommendation given tool outputs.
func (b *Builder) BuildSynthesis(ctx AnalysisContext) (string, error) {
	base, err := b.BuildAnalysis(ctx)
	if err != nil {
		return "", err
	}
	synth, err := render(b.synthesis, ctx)
	if err != nil {
		return "", err
	}
	return base + "\n\n" + synth, nil
}

// SystemPrompt is the fixed instruction sent ahead of every analysis.
func (b *Builder) SystemPrompt() string {
	return systemPrompt
}

func validate(ctx AnalysisContext) error {
	if ctx.Opportunity == nil {
		return fmt.Errorf("prompt context requires an opportunity")
	}
	if ctx.Strategy == nil {
		return fmt.Errorf("prompt context requires a strategy")
	}
	return nil
}

func render(tmpl *template.Template, ctx AnalysisContext) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, ctx); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", tmpl.Name(), err)
	}
	return strings.TrimSpace(sb.String()), nil
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func formatDecimal(v any) string {
	switch d := v.(type) {
	case *decimal.Decimal:
		if d != nil {
			return d.String()
		}
	case decimal.Decimal:
		return d.String()
	case float64:
		return decimal.NewFromFloat(d).String()
	}
	return "n/a"
}

type param struct {
	Key   string
	Value string
}

func sortedParams(m map[string]any) []param {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]param, 0, len(keys))
	for _, k := range keys {
		out = append(out, param{Key: k, Value: toJSON(m[k])})
	}
	return out
}
