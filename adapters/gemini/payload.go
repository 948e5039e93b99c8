package gemini

import "fmt"

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.5-flash-preview-09-2025"
	apiVersion     = "v1beta"

	defaultTemperature = 0.3
)

// systemInstruction pins the analyst persona and the report structure.
// Caller input never reaches this text; the sector enters the prompt only
// through queryTemplate.
const systemInstruction = `You are a top Indian financial analyst. Analyze the current market trends, growth drivers, and policies for the specified Indian sector. Output a detailed Markdown report structured as:
1. Executive Summary
2. Market Dynamics
3. Trade Opportunities
4. Regulatory Environment
5. Risks and Challenges.`

const queryTemplate = "Provide a market analysis for the %s sector in India."

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
}

// buildRequest assembles the generateContent payload for one sector.
func buildRequest(sector string, temperature float64) generateRequest {
	return generateRequest{
		Contents: []content{
			{Parts: []part{{Text: fmt.Sprintf(queryTemplate, sector)}}},
		},
		SystemInstruction: &content{
			Parts: []part{{Text: systemInstruction}},
		},
		GenerationConfig: generationConfig{Temperature: temperature},
	}
}
