package llm

import (
	"fmt"
	"strings"
)

// TradeIdentifiedStatus is the status value the model returns when it found a setup
const TradeIdentifiedStatus = "trade identified"

// TradeFinderTask is the fixed task description stamped on every trade-finder payload
const TradeFinderTask = "Analyze the event stream and multi-timeframe candles for a high-probability intraday setup. " +
	"Identify at most one trade with direction, entry zone, stop placement, targets and the conditions that trigger or invalidate it."

// TradeFinderInstructions builds the system instructions for a trade-finder call
func TradeFinderInstructions(profile string, highThreshold, mediumThreshold int) string {
	var sb strings.Builder
	sb.Grow(1024)

	sb.WriteString("You are a disciplined intraday futures analyst.\n")
	if profile != "" {
		sb.WriteString(fmt.Sprintf("Analysis profile: %s.\n", profile))
	}
	sb.WriteString("\nRules:\n")
	sb.WriteString("1. Only use the events, candles, daily context and key levels in the payload. Never invent prices.\n")
	sb.WriteString(fmt.Sprintf("2. Set \"status\" to %q only when a concrete setup exists, otherwise \"no trade\".\n", TradeIdentifiedStatus))
	sb.WriteString("3. \"entry_zone.range\" is a price range written as LOW-HIGH.\n")
	sb.WriteString(fmt.Sprintf("4. \"confidence\" is an integer 0-100. %d+ is reserved for A+ setups, %d-%d for tradeable setups.\n",
		highThreshold, mediumThreshold, highThreshold-1))
	sb.WriteString("5. Keep the narrative under 80 words.\n")
	sb.WriteString("\nRespond with JSON only. Do not wrap it in markdown.")

	return sb.String()
}

// TradeSignalSchema is the JSON schema of the trade-finder structured output
func TradeSignalSchema() Schema {
	stringList := map[string]interface{}{
		"type":  "array",
		"items": map[string]interface{}{"type": "string"},
	}

	return Schema{
		Name:        "trade_signal",
		Description: "Trade-finder decision for one symbol",
		Strict:      false,
		Definition: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"status":     map[string]interface{}{"type": "string"},
				"direction":  map[string]interface{}{"type": "string", "enum": []string{"LONG", "SHORT"}},
				"confidence": map[string]interface{}{"type": "integer", "minimum": 0, "maximum": 100},
				"entry_zone": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"type":  map[string]interface{}{"type": "string"},
						"range": map[string]interface{}{"type": "string"},
						"price": map[string]interface{}{"type": "number"},
					},
				},
				"stop":                    map[string]interface{}{"type": "string"},
				"targets":                 stringList,
				"risk_reward":             map[string]interface{}{"type": "string"},
				"narrative":               map[string]interface{}{"type": "string"},
				"trigger_conditions":      stringList,
				"invalidation_conditions": stringList,
				"timeframe":               map[string]interface{}{"type": "string"},
			},
			"required": []string{"status"},
		},
	}
}

// WorkflowInstructions wraps a catalog prompt for a free-form workflow run
func WorkflowInstructions(promptName, promptBody string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Workflow: %s\n\n", promptName))
	sb.WriteString(strings.TrimSpace(promptBody))
	sb.WriteString("\n\nBase every statement on the supplied data. Say so plainly when the data is insufficient.")
	return sb.String()
}
