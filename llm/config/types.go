package config

import (
	"fmt"
	"strings"
)

// AppConfig 全部模型配置（进程生命周期内只读）
type AppConfig struct {
	Models []ModelConfig `json:"models" yaml:"models"`
}

// ModelConfig 逻辑模型配置（例如 "gpt-4"）
type ModelConfig struct {
	ID           string           `json:"id" yaml:"id"`
	Providers    []ProviderConfig `json:"providers" yaml:"providers"`       // 有序，至少一个
	Capabilities []string         `json:"capabilities" yaml:"capabilities"` // streaming / tools / vision ...
}

// ProviderConfig 提供某个模型的 Provider
type ProviderConfig struct {
	Name            string              `json:"name" yaml:"name"`
	Model           string              `json:"model" yaml:"model"`       // Provider 侧的模型名
	Priority        int                 `json:"priority" yaml:"priority"` // 越大越优先
	Pricing         PricingConfig       `json:"pricing" yaml:"pricing"`
	SubProviders    []SubProviderConfig `json:"sub_providers,omitempty" yaml:"sub_providers,omitempty"`
	Tags            []string            `json:"tags,omitempty" yaml:"tags,omitempty"`
	ReliabilityTier string              `json:"reliability_tier,omitempty" yaml:"reliability_tier,omitempty"`

	// 连接信息
	BaseURL    string            `json:"base_url" yaml:"base_url"`
	APIKey     string            `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	AuthScheme string            `json:"auth_scheme,omitempty" yaml:"auth_scheme,omitempty"` // 默认 Bearer
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// SubProviderConfig Provider 下的故障转移层（例如聚合商 → 底层厂商）
type SubProviderConfig struct {
	Name     string        `json:"name" yaml:"name"`
	Model    string        `json:"model" yaml:"model"`
	Priority int           `json:"priority" yaml:"priority"`
	Pricing  PricingConfig `json:"pricing" yaml:"pricing"`
	Tags     []string      `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// PricingConfig 每百万 token 价格
type PricingConfig struct {
	PromptPerMillion     float64 `json:"prompt_per_million" yaml:"prompt_per_million"`
	CompletionPerMillion float64 `json:"completion_per_million" yaml:"completion_per_million"`
}

// Validate 校验价格非负
func (p PricingConfig) Validate() error {
	if p.PromptPerMillion < 0 || p.CompletionPerMillion < 0 {
		return fmt.Errorf("pricing must be non-negative (prompt=%v completion=%v)",
			p.PromptPerMillion, p.CompletionPerMillion)
	}
	return nil
}

// HasTag 大小写不敏感的标签判断
func (p *ProviderConfig) HasTag(tag string) bool {
	return containsFold(p.Tags, tag)
}

// Model 按 ID 查找模型
func (c *AppConfig) Model(id string) (*ModelConfig, bool) {
	for i := range c.Models {
		if c.Models[i].ID == id {
			return &c.Models[i], true
		}
	}
	return nil, false
}

// Validate 校验配置：模型 ID 唯一、Provider 非空、价格非负
func (c *AppConfig) Validate() error {
	var errs []string
	seen := make(map[string]bool, len(c.Models))

	for _, m := range c.Models {
		if m.ID == "" {
			errs = append(errs, "model id is required")
			continue
		}
		if seen[m.ID] {
			errs = append(errs, fmt.Sprintf("duplicate model id %q", m.ID))
		}
		seen[m.ID] = true

		if len(m.Providers) == 0 {
			errs = append(errs, fmt.Sprintf("model %q has no providers", m.ID))
		}
		for _, p := range m.Providers {
			if p.Name == "" {
				errs = append(errs, fmt.Sprintf("model %q: provider name is required", m.ID))
			}
			if err := p.Pricing.Validate(); err != nil {
				errs = append(errs, fmt.Sprintf("model %q provider %q: %v", m.ID, p.Name, err))
			}
			for _, sp := range p.SubProviders {
				if err := sp.Pricing.Validate(); err != nil {
					errs = append(errs, fmt.Sprintf("model %q sub-provider %q: %v", m.ID, sp.Name, err))
				}
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("model config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
