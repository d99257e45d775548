package summarize

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type PromptType string

const (
	PromptSimple       PromptType = "simple"
	PromptIntermediate PromptType = "intermediate"
	PromptDetailed     PromptType = "detailed"
	PromptCustom       PromptType = "custom"
)

// Presets holds prompt templates. {text} is replaced by the report text and
// {custom} by the caller's own instructions.
type Presets struct {
	Default   string                `yaml:"default"`
	Custom    string                `yaml:"custom"`
	Templates map[PromptType]string `yaml:"presets"`
}

func DefaultPresets() Presets {
	return Presets{
		Default: "Riassumi il seguente referto medico:\n{text}",
		Custom:  "{custom}\n\nTesto referto:\n{text}",
		Templates: map[PromptType]string{
			PromptSimple:       "Riassunto semplice e comprensibile:\n\n{text}",
			PromptIntermediate: "Analisi intermedia strutturata con diagnosi, parametri, terapie:\n\n{text}",
			PromptDetailed:     "Analisi medica dettagliata per specialisti:\n\n{text}",
		},
	}
}

// LoadPresets overlays the YAML file at path on the defaults. Keys missing
// from the file keep their default template.
func LoadPresets(path string) (Presets, error) {
	p := DefaultPresets()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read prompts: %w", err)
	}
	var override Presets
	if err := yaml.Unmarshal(data, &override); err != nil {
		return p, fmt.Errorf("parse prompts %s: %w", path, err)
	}
	if override.Default != "" {
		p.Default = override.Default
	}
	if override.Custom != "" {
		p.Custom = override.Custom
	}
	for k, v := range override.Templates {
		if k == PromptCustom {
			return p, fmt.Errorf("parse prompts %s: %q is reserved, use the custom key", path, k)
		}
		p.Templates[k] = v
	}
	return p, nil
}

// Prompt builds the model prompt. A custom type without instructions and
// unknown types use the default template.
func (p Presets) Prompt(kind PromptType, custom, text string) string {
	tmpl := p.Default
	switch {
	case kind == PromptCustom:
		if strings.TrimSpace(custom) != "" {
			tmpl = p.Custom
		}
	case p.Templates[kind] != "":
		tmpl = p.Templates[kind]
	}
	return strings.NewReplacer("{custom}", custom, "{text}", text).Replace(tmpl)
}

// Types lists the selectable preset names, custom included.
func (p Presets) Types() []PromptType {
	out := []PromptType{PromptSimple, PromptIntermediate, PromptDetailed}
	var extra []PromptType
	for k := range p.Templates {
		switch k {
		case PromptSimple, PromptIntermediate, PromptDetailed:
		default:
			extra = append(extra, k)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	out = append(out, extra...)
	return append(out, PromptCustom)
}
