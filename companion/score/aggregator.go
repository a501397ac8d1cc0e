package score

import (
	"math"
	"sort"
	"strings"
)

// Sample 单条语音的情绪概率，键为情绪标签（大小写不敏感）。
type Sample map[string]float64

// WeightTable 小写情绪标签到带符号权重的映射。
type WeightTable map[string]float64

// Calibration 评分标定常数。这些值是经验标定的，不是结构性约束。
type Calibration struct {
	// Multiplier 原始分数到 0-100 区间的放大倍率
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
	// DampingThreshold 压力和超过该值时衰减平静贡献
	DampingThreshold float64 `yaml:"damping_threshold" json:"damping_threshold"`
	// DampingFactor 平静贡献的衰减系数
	DampingFactor float64 `yaml:"damping_factor" json:"damping_factor"`
}

// DefaultCalibration 返回默认标定。
func DefaultCalibration() Calibration {
	return Calibration{
		Multiplier:       300,
		DampingThreshold: 0.05,
		DampingFactor:    0.2,
	}
}

const (
	// MinScore 分数下界
	MinScore = 0
	// MaxScore 分数上界
	MaxScore = 100
)

// Breakdown 单轴评分的中间量，便于调试日志输出。
type Breakdown struct {
	StressSum    float64 `json:"stress_sum"`
	CalmSum      float64 `json:"calm_sum"`
	EffectiveSum float64 `json:"effective_calm_sum"`
	Raw          float64 `json:"raw"`
	Score        int     `json:"score"`
}

// Compute 按权重表计算单轴分数。
func Compute(sample Sample, weights WeightTable, cal Calibration) int {
	return Explain(sample, weights, cal).Score
}

// Explain 计算单轴分数并返回中间量。
func Explain(sample Sample, weights WeightTable, cal Calibration) Breakdown {
	var b Breakdown
	if len(sample) == 0 || len(weights) == 0 {
		return b
	}

	for label, p := range sample {
		w := weights[strings.ToLower(strings.TrimSpace(label))]
		if w == 0 {
			continue
		}
		contribution := p * w
		if math.IsNaN(contribution) || math.IsInf(contribution, 0) {
			continue
		}
		if w > 0 {
			b.StressSum += contribution
		} else {
			b.CalmSum += contribution
		}
	}

	b.EffectiveSum = b.CalmSum
	if b.StressSum > cal.DampingThreshold {
		b.EffectiveSum = b.CalmSum * cal.DampingFactor
	}

	b.Raw = b.StressSum + b.EffectiveSum
	b.Score = clamp(math.Round(b.Raw * cal.Multiplier))
	return b
}

func clamp(v float64) int {
	if math.IsNaN(v) || v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return int(v)
}

// Axis 一个评分维度。
type Axis struct {
	Name    string
	Weights WeightTable
}

// Result 每个轴的分数。
type Result map[string]int

// Max 返回所有轴中的最大分数。
func (r Result) Max() int {
	m := 0
	for _, v := range r {
		if v > m {
			m = v
		}
	}
	return m
}

// Profile 多轴评分配置。轴之间相互独立，不要求总和为定值，可读取相同的情绪。
type Profile struct {
	axes []Axis
	cal  Calibration
}

// NewProfile 创建评分配置。权重表的键会被统一为小写。
func NewProfile(cal Calibration, axes ...Axis) *Profile {
	normalized := make([]Axis, 0, len(axes))
	for _, a := range axes {
		table := make(WeightTable, len(a.Weights))
		for k, v := range a.Weights {
			table[strings.ToLower(strings.TrimSpace(k))] = v
		}
		normalized = append(normalized, Axis{Name: a.Name, Weights: table})
	}
	return &Profile{axes: normalized, cal: cal}
}

// Axes 返回轴名称（按声明顺序）。
func (p *Profile) Axes() []string {
	names := make([]string, len(p.axes))
	for i, a := range p.axes {
		names[i] = a.Name
	}
	return names
}

// Calibration 返回当前标定。
func (p *Profile) Calibration() Calibration {
	return p.cal
}

// Score 对每个轴独立评分。空样本时所有轴为 0。
func (p *Profile) Score(sample Sample) Result {
	res := make(Result, len(p.axes))
	for _, a := range p.axes {
		res[a.Name] = Compute(sample, a.Weights, p.cal)
	}
	return res
}

// Explain 返回每个轴的中间量。
func (p *Profile) Explain(sample Sample) map[string]Breakdown {
	out := make(map[string]Breakdown, len(p.axes))
	for _, a := range p.axes {
		out[a.Name] = Explain(sample, a.Weights, p.cal)
	}
	return out
}

// Zero 返回所有轴为 0 的结果。
func (p *Profile) Zero() Result {
	res := make(Result, len(p.axes))
	for _, a := range p.axes {
		res[a.Name] = 0
	}
	return res
}

// WithCalibration 返回换用新标定常数的副本，轴与权重不变。
func (p *Profile) WithCalibration(cal Calibration) *Profile {
	return &Profile{axes: p.axes, cal: cal}
}

// WithOverrides 用给定的权重表替换同名轴，返回新的配置。未知轴名被忽略。
func (p *Profile) WithOverrides(overrides map[string]WeightTable) *Profile {
	if len(overrides) == 0 {
		return p
	}
	axes := make([]Axis, len(p.axes))
	copy(axes, p.axes)
	for i, a := range axes {
		if table, ok := overrides[a.Name]; ok && len(table) > 0 {
			axes[i] = Axis{Name: a.Name, Weights: table}
		}
	}
	return NewProfile(p.cal, axes...)
}

// TopEmotions 返回概率最高的 n 个情绪标签（用于界面展示和日志）。
func TopEmotions(sample Sample, n int) []string {
	labels := make([]string, 0, len(sample))
	for k := range sample {
		labels = append(labels, k)
	}
	sort.Slice(labels, func(i, j int) bool {
		if sample[labels[i]] == sample[labels[j]] {
			return labels[i] < labels[j]
		}
		return sample[labels[i]] > sample[labels[j]]
	})
	if n >= 0 && len(labels) > n {
		labels = labels[:n]
	}
	return labels
}
