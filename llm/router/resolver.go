package router

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/llmrelay/llm/config"
	"github.com/BaSui01/llmrelay/types"
)

// 代表性 token 数，用于成本排序与单次请求成本上限
const (
	DefaultPromptTokens     = 1000
	DefaultCompletionTokens = 1000
)

// DefaultAuthScheme 未配置时使用的 Authorization 方案
const DefaultAuthScheme = "Bearer"

// Criteria Provider 选择条件
// 零值等价于只按优先级排序。
type Criteria struct {
	RequiredTags         []string // 必须全部具备（AND）
	PreferredTags        []string // 只影响排序，不排除
	PreferLowerCost      bool     // 按代表性 token 数的总成本升序
	PreferPerformance    bool     // 同优先级时按可靠性等级降序
	IncludeOnlyProviders []string // 非空时只保留这些 Provider（大小写不敏感）
	ExcludeProviders     []string // 排除的 Provider / Sub-provider 名称

	MaxCostPerMillion float64 // prompt+completion 每百万单价之和上限，0 表示不限
	MaxRequestCost    float64 // 代表性 token 数下单次请求成本上限，0 表示不限

	PromptTokens     int
	CompletionTokens int
}

func (c *Criteria) tokens() (int, int) {
	prompt, completion := DefaultPromptTokens, DefaultCompletionTokens
	if c != nil && c.PromptTokens > 0 {
		prompt = c.PromptTokens
	}
	if c != nil && c.CompletionTokens > 0 {
		completion = c.CompletionTokens
	}
	return prompt, completion
}

// ConnectionInfo 发送请求所需的连接信息
type ConnectionInfo struct {
	BaseURL    string
	APIKey     string
	AuthScheme string
	Headers    map[string]string
}

// Resolution 一个可尝试的候选（Provider 或其下的 Sub-provider）
type Resolution struct {
	Model       *config.ModelConfig
	Provider    *config.ProviderConfig
	SubProvider *config.SubProviderConfig // 为 nil 表示直接使用 Provider
	Connection  ConnectionInfo
}

// EffectiveModelName Provider 侧实际使用的模型名
func (r *Resolution) EffectiveModelName() string {
	if r.SubProvider != nil && r.SubProvider.Model != "" {
		return r.SubProvider.Model
	}
	if r.Provider.Model != "" {
		return r.Provider.Model
	}
	return r.Model.ID
}

// EffectiveProviderName 实际服务的 Provider 名称
func (r *Resolution) EffectiveProviderName() string {
	if r.SubProvider != nil {
		return r.SubProvider.Name
	}
	return r.Provider.Name
}

// EffectivePricing 实际生效的价格
func (r *Resolution) EffectivePricing() config.PricingConfig {
	if r.SubProvider != nil {
		return r.SubProvider.Pricing
	}
	return r.Provider.Pricing
}

// EffectiveTags Sub-provider 的标签是自身标签加父级标签
func (r *Resolution) EffectiveTags() []string {
	if r.SubProvider == nil {
		return r.Provider.Tags
	}
	tags := make([]string, 0, len(r.SubProvider.Tags)+len(r.Provider.Tags))
	tags = append(tags, r.SubProvider.Tags...)
	for _, t := range r.Provider.Tags {
		if !containsFold(tags, t) {
			tags = append(tags, t)
		}
	}
	return tags
}

// EstimatedCost 给定 token 数下的成本
func (r *Resolution) EstimatedCost(promptTokens, completionTokens int) float64 {
	return TotalCost(promptTokens, completionTokens, r.EffectivePricing())
}

// String 便于日志与 CLI 输出，例如 "openrouter/anthropic"
func (r *Resolution) String() string {
	if r.SubProvider != nil {
		return r.Provider.Name + "/" + r.SubProvider.Name
	}
	return r.Provider.Name
}

// Resolver 把模型配置解析为有序的故障转移候选列表
// 纯计算，无副作用；可并发使用。
type Resolver struct {
	logger *zap.Logger
}

// NewResolver 创建解析器
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger.With(zap.String("component", "resolver"))}
}

// ResolveByID 在应用配置中查找模型后解析
func (r *Resolver) ResolveByID(app *config.AppConfig, modelID string, criteria *Criteria) ([]Resolution, error) {
	if app == nil {
		return nil, types.NewModelNotFoundError(modelID)
	}
	model, ok := app.Model(modelID)
	if !ok {
		return nil, types.NewModelNotFoundError(modelID)
	}
	return r.Resolve(model, criteria)
}

// group 一个 Provider 及其存活的 Sub-provider，作为排序单元
type group struct {
	members  []Resolution
	boost    int
	cost     float64
	priority int
	tier     int
}

// Resolve 过滤并排序候选
//
// 过滤顺序：Include/Exclude → RequiredTags → 成本上限。
// 排序：PreferLowerCost 时成本升序优先，其次优先级降序，
// 再次 PreferredTags 命中数，PreferPerformance 时再按可靠性等级；全部相同则保持配置顺序。
// Sub-provider 紧跟在父 Provider 之后，按自身优先级排列。
func (r *Resolver) Resolve(model *config.ModelConfig, criteria *Criteria) ([]Resolution, error) {
	if model == nil {
		return nil, types.NewNoEligibleProviderError("", "model config is nil")
	}
	if len(model.Providers) == 0 {
		return nil, types.NewNoEligibleProviderError(model.ID, "model has no providers")
	}
	if criteria == nil {
		criteria = &Criteria{}
	}
	prompt, completion := criteria.tokens()

	groups := make([]group, 0, len(model.Providers))
	for i := range model.Providers {
		p := &model.Providers[i]
		if !providerAllowed(p.Name, criteria) {
			continue
		}

		var members []Resolution
		parent := newResolution(model, p, nil)
		if r.eligible(&parent, criteria, prompt, completion) {
			members = append(members, parent)
		}

		for _, sp := range sortedSubProviders(p.SubProviders) {
			if containsFold(criteria.ExcludeProviders, sp.Name) {
				continue
			}
			res := newResolution(model, p, sp)
			if r.eligible(&res, criteria, prompt, completion) {
				members = append(members, res)
			}
		}
		if len(members) == 0 {
			continue
		}

		lead := &members[0]
		groups = append(groups, group{
			members:  members,
			boost:    countMatches(lead.EffectiveTags(), criteria.PreferredTags),
			cost:     lead.EstimatedCost(prompt, completion),
			priority: p.Priority,
			tier:     tierRank(p.ReliabilityTier),
		})
	}

	if len(groups) == 0 {
		r.logger.Debug("no eligible provider",
			zap.String("model", model.ID),
			zap.Strings("required_tags", criteria.RequiredTags))
		return nil, types.NewNoEligibleProviderError(model.ID, describeFilters(criteria))
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if criteria.PreferLowerCost && a.cost != b.cost {
			return a.cost < b.cost
		}
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		// 偏好标签只在同优先级内前移
		if a.boost != b.boost {
			return a.boost > b.boost
		}
		if criteria.PreferPerformance && a.tier != b.tier {
			return a.tier > b.tier
		}
		return false
	})

	var out []Resolution
	for _, g := range groups {
		out = append(out, g.members...)
	}

	if ce := r.logger.Check(zap.DebugLevel, "providers resolved"); ce != nil {
		order := make([]string, len(out))
		for i := range out {
			order[i] = out[i].String()
		}
		ce.Write(zap.String("model", model.ID), zap.Strings("order", order))
	}
	return out, nil
}

// eligible 标签与成本过滤
func (r *Resolver) eligible(res *Resolution, c *Criteria, prompt, completion int) bool {
	tags := res.EffectiveTags()
	for _, req := range c.RequiredTags {
		if !containsFold(tags, req) {
			return false
		}
	}

	pricing := res.EffectivePricing()
	if c.MaxCostPerMillion > 0 && pricing.PromptPerMillion+pricing.CompletionPerMillion > c.MaxCostPerMillion {
		return false
	}
	if c.MaxRequestCost > 0 && TotalCost(prompt, completion, pricing) > c.MaxRequestCost {
		return false
	}
	return true
}

func newResolution(model *config.ModelConfig, p *config.ProviderConfig, sp *config.SubProviderConfig) Resolution {
	scheme := p.AuthScheme
	if scheme == "" {
		scheme = DefaultAuthScheme
	}
	var headers map[string]string
	if len(p.Headers) > 0 {
		headers = make(map[string]string, len(p.Headers))
		for k, v := range p.Headers {
			headers[k] = v
		}
	}
	return Resolution{
		Model:       model,
		Provider:    p,
		SubProvider: sp,
		Connection: ConnectionInfo{
			BaseURL:    p.BaseURL,
			APIKey:     p.APIKey,
			AuthScheme: scheme,
			Headers:    headers,
		},
	}
}

func providerAllowed(name string, c *Criteria) bool {
	if containsFold(c.ExcludeProviders, name) {
		return false
	}
	if len(c.IncludeOnlyProviders) > 0 && !containsFold(c.IncludeOnlyProviders, name) {
		return false
	}
	return true
}

// sortedSubProviders 按自身优先级降序，稳定排序
func sortedSubProviders(subs []config.SubProviderConfig) []*config.SubProviderConfig {
	out := make([]*config.SubProviderConfig, len(subs))
	for i := range subs {
		out[i] = &subs[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// tierRank 可靠性等级排名，未知等级排在最后
func tierRank(tier string) int {
	switch strings.ToLower(tier) {
	case "premium", "high", "enterprise":
		return 3
	case "standard", "medium":
		return 2
	case "economy", "low", "best-effort":
		return 1
	default:
		return 0
	}
}

func countMatches(tags, wanted []string) int {
	n := 0
	for _, w := range wanted {
		if containsFold(tags, w) {
			n++
		}
	}
	return n
}

func describeFilters(c *Criteria) string {
	var parts []string
	if len(c.IncludeOnlyProviders) > 0 {
		parts = append(parts, "include="+strings.Join(c.IncludeOnlyProviders, ","))
	}
	if len(c.ExcludeProviders) > 0 {
		parts = append(parts, "exclude="+strings.Join(c.ExcludeProviders, ","))
	}
	if len(c.RequiredTags) > 0 {
		parts = append(parts, "required_tags="+strings.Join(c.RequiredTags, ","))
	}
	if c.MaxCostPerMillion > 0 || c.MaxRequestCost > 0 {
		parts = append(parts, "cost ceiling")
	}
	if len(parts) == 0 {
		return "all candidates filtered"
	}
	return "filtered by " + strings.Join(parts, " ")
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
