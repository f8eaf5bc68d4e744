package annotation

import "strings"

// Option is a selectable value with its display label.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// TypeOptions lists annotation types in display order.
var TypeOptions = []Option{
	{string(TypeIncident), "Incident"},
	{string(TypeMaintenance), "Maintenance"},
	{string(TypeDeployment), "Deployment"},
	{string(TypeEvent), "Event"},
	{string(TypeOther), "Other"},
}

// IndicatorOptions lists indicators in display order.
var IndicatorOptions = []Option{
	{string(IndicatorCritical), "Critical"},
	{string(IndicatorWarning), "Warning"},
	{string(IndicatorInfo), "Informational"},
	{string(IndicatorSuccess), "Success"},
}

// RecommendationOptions lists recommendations in display order.
var RecommendationOptions = []Option{
	{string(RecommendationInvestigate), "Investigate Further"},
	{string(RecommendationMonitor), "Monitor Closely"},
	{string(RecommendationIgnore), "No Action Required"},
	{string(RecommendationEscalate), "Escalate to Team"},
}

// Label returns the display label of value among opts, or value itself.
func Label(opts []Option, value string) string {
	for _, o := range opts {
		if o.Value == value {
			return o.Label
		}
	}
	return value
}

// Capitalize upper-cases the first letter and lower-cases the rest.
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
