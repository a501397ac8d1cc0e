package score

// 轴名称
const (
	AxisStress     = "stress"
	AxisLoneliness = "loneliness"
	AxisConfusion  = "confusion"
	AxisDistress   = "distress"
)

// StressWeights 任务型助手的压力权重表。
func StressWeights() WeightTable {
	return WeightTable{
		"anxiety":        2.5,
		"distress":       3.0,
		"fear":           2.0,
		"tiredness":      1.2,
		"anger":          2.5,
		"frustration":    2.8,
		"sorrow":         1.0,
		"disappointment": 1.2,
		"confusion":      0.8,
		"disgust":        0.6,
		"pain":           1.5,
		"calmness":       -1.2,
		"contentment":    -1.0,
		"relief":         -1.8,
	}
}

// LonelinessWeights 陪伴型助手的孤独感权重表。
func LonelinessWeights() WeightTable {
	return WeightTable{
		"sadness":        2.5,
		"nostalgia":      1.5,
		"disappointment": 1.5,
		"boredom":        1.2,
		"empathic pain":  1.0,
		"tiredness":      0.8,
		"joy":            -1.5,
		"love":           -1.2,
		"amusement":      -1.0,
		"contentment":    -1.0,
	}
}

// ConfusionWeights 陪伴型助手的困惑权重表。
func ConfusionWeights() WeightTable {
	return WeightTable{
		"confusion":           3.0,
		"doubt":               2.0,
		"surprise (negative)": 1.5,
		"awkwardness":         1.2,
		"realization":         -1.0,
		"concentration":       -0.5,
		"calmness":            -0.8,
	}
}

// DistressWeights 陪伴型助手的痛苦权重表。
func DistressWeights() WeightTable {
	return WeightTable{
		"distress":    3.0,
		"anxiety":     2.5,
		"fear":        2.5,
		"horror":      2.0,
		"pain":        2.0,
		"anger":       1.5,
		"calmness":    -1.2,
		"relief":      -1.8,
		"contentment": -1.0,
	}
}

// StressProfile 单轴压力评分配置。
func StressProfile(cal Calibration) *Profile {
	return NewProfile(cal, Axis{Name: AxisStress, Weights: StressWeights()})
}

// CompanionProfile 三轴陪伴评分配置。
func CompanionProfile(cal Calibration) *Profile {
	return NewProfile(cal,
		Axis{Name: AxisLoneliness, Weights: LonelinessWeights()},
		Axis{Name: AxisConfusion, Weights: ConfusionWeights()},
		Axis{Name: AxisDistress, Weights: DistressWeights()},
	)
}
