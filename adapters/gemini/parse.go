package gemini

import (
	"github.com/samber/lo"
	"github.com/tidwall/gjson"

	"github.com/artpar/tradegate/domain/analysis"
)

// parseResponse extracts the report text and grounding attributions from a
// successful generateContent body. A body with no generated text degrades to
// the placeholder report; it never fails the call.
func parseResponse(body []byte, sector string) analysis.Result {
	result := analysis.Result{Sector: sector}

	text := gjson.GetBytes(body, "candidates.0.content.parts.0.text")
	if text.Exists() && text.String() != "" {
		result.Report = text.String()
	} else {
		result.Report = analysis.PlaceholderReport(sector)
	}

	attributions := gjson.GetBytes(body, "candidates.0.groundingMetadata.groundingAttributions").Array()
	result.Sources = lo.FilterMap(attributions, func(a gjson.Result, _ int) (analysis.Source, bool) {
		uri := a.Get("web.uri")
		title := a.Get("web.title")
		if !uri.Exists() || !title.Exists() {
			return analysis.Source{}, false
		}
		return analysis.Source{URI: uri.String(), Title: title.String()}, true
	})

	return result
}
