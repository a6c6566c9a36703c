package reasoning

import (
	"encoding/json"
	"strings"
)

// Parsed is the structured verdict extracted from engine output.
// Numeric trade fields stay nil when the engine omitted them.
type Parsed struct {
	GatePassed       bool     `json:"gate_passed"`
	Recommendation   string   `json:"recommendation"`
	Confidence       int      `json:"confidence"`
	ExpectedValuePct float64  `json:"expected_value_pct"`
	EntryPrice       *float64 `json:"entry_price,omitempty"`
	StopPrice        *float64 `json:"stop_price,omitempty"`
	TargetPrice      *float64 `json:"target_price,omitempty"`
	PositionSizePct  *float64 `json:"position_size_pct,omitempty"`
	TradeStructure   string   `json:"trade_structure,omitempty"`
	Expiry           string   `json:"expiry,omitempty"`
	Strikes          string   `json:"strikes,omitempty"`
	Rationale        string   `json:"rationale,omitempty"`
}

var validRecommendations = map[string]bool{
	"BUY": true, "SELL": true, "HOLD": true, "WAIT": true,
	"BULLISH": true, "BEARISH": true, "LONG": true, "SHORT": true,
	"UNKNOWN": true,
}

// defaultParsed is what parsing failures produce. The raw text is still
// kept on the run; only the structured fields fall back.
func defaultParsed() *Parsed {
	return &Parsed{Recommendation: "UNKNOWN"}
}

// Parse extracts the first well-formed JSON object from free-form
// engine output. The object may sit inside a ``` fence (with or
// without a json language tag) or start the text directly. Parse never
// fails: unusable input yields conservative defaults.
func Parse(raw string) *Parsed {
	block := extractJSON(raw)
	if block == "" {
		return defaultParsed()
	}

	var p struct {
		GatePassed       *bool    `json:"gate_passed"`
		Recommendation   string   `json:"recommendation"`
		Confidence       *float64 `json:"confidence"`
		ExpectedValuePct *float64 `json:"expected_value_pct"`
		EntryPrice       *float64 `json:"entry_price"`
		StopPrice        *float64 `json:"stop_price"`
		TargetPrice      *float64 `json:"target_price"`
		PositionSizePct  *float64 `json:"position_size_pct"`
		TradeStructure   string   `json:"trade_structure"`
		Expiry           string   `json:"expiry"`
		Strikes          string   `json:"strikes"`
		Rationale        string   `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(block), &p); err != nil {
		return defaultParsed()
	}

	out := defaultParsed()
	if p.GatePassed != nil {
		out.GatePassed = *p.GatePassed
	}
	if rec := strings.ToUpper(strings.TrimSpace(p.Recommendation)); validRecommendations[rec] {
		out.Recommendation = rec
	}
	if p.Confidence != nil {
		out.Confidence = clampConfidence(int(*p.Confidence))
	}
	if p.ExpectedValuePct != nil {
		out.ExpectedValuePct = *p.ExpectedValuePct
	}
	out.EntryPrice = p.EntryPrice
	out.StopPrice = p.StopPrice
	out.TargetPrice = p.TargetPrice
	out.PositionSizePct = p.PositionSizePct
	out.TradeStructure = p.TradeStructure
	out.Expiry = p.Expiry
	out.Strikes = p.Strikes
	out.Rationale = p.Rationale
	return out
}

// ClampConfidence bounds a confidence value to [0,100].
func clampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// extractJSON returns the first balanced JSON object found in text,
// preferring fenced blocks over bare objects.
func extractJSON(text string) string {
	// Fenced block first: ```json ... ``` or plain ``` ... ```.
	rest := text
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			break
		}
		rest = rest[start+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && nl < 20 && !strings.Contains(rest[:nl], "{") {
			// Skip a language tag line such as "json".
			rest = rest[nl+1:]
		}
		end := strings.Index(rest, "```")
		candidate := rest
		if end >= 0 {
			candidate = rest[:end]
		}
		if obj := balancedObject(candidate); obj != "" {
			return obj
		}
		if end < 0 {
			break
		}
		rest = rest[end+3:]
	}
	return balancedObject(text)
}

// balancedObject finds the first brace-balanced object in s, tracking
// string literals so braces inside values do not confuse the scan.
func balancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
