package fixtures

// StressedProsody 压力情绪明显的韵律样例，aura 压力分数封顶为 100
func StressedProsody() map[string]float64 {
	return map[string]float64{
		"Anxiety":       0.42,
		"Distress":      0.31,
		"Tiredness":     0.22,
		"Calmness":      0.03,
		"Concentration": 0.12,
	}
}

// CalmProsody 平静为主的韵律样例，压力分数为 0
func CalmProsody() map[string]float64 {
	return map[string]float64{
		"Calmness":     0.55,
		"Contentment":  0.35,
		"Satisfaction": 0.2,
		"Anxiety":      0.01,
	}
}

// LonelyProsody 悲伤、怀旧为主的韵律样例
func LonelyProsody() map[string]float64 {
	return map[string]float64{
		"Sadness":        0.4,
		"Nostalgia":      0.35,
		"Disappointment": 0.2,
		"Joy":            0.02,
	}
}
