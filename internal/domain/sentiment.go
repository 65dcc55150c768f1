package domain

// Conclusion is the market impact assigned to a news item.
type Conclusion string

const (
	ConclusionBullish Conclusion = "利好"
	ConclusionBearish Conclusion = "利空"
	ConclusionNeutral Conclusion = "中性"
	ConclusionUnknown Conclusion = "未知"
)

// Sentiment is the parsed result of a news impact analysis.
type Sentiment struct {
	Conclusion Conclusion `json:"conclusion"`
	Reason     string     `json:"reason"`
}
