package extraction

import "encoding/json"

// failurePatternSchemaJSON is the JSON Schema handed to the LLM
// client so the model's structured tool call is shaped like a
// FailurePattern before EvalForge's own Validate runs against it.
const failurePatternSchemaJSON = `{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "failure_type": {
      "type": "string",
      "enum": ["hallucination", "toxicity", "wrong_tool", "runaway_loop", "pii_leak", "stale_data", "infrastructure_error", "client_error", "prompt_injection"]
    },
    "trigger_condition": {"type": "string"},
    "summary": {"type": "string"},
    "root_cause_hypothesis": {"type": "string"},
    "evidence": {
      "type": "object",
      "properties": {
        "signals": {"type": "array", "items": {"type": "string"}},
        "excerpt": {"type": "string"}
      },
      "required": ["signals"]
    },
    "recommended_actions": {"type": "array", "items": {"type": "string"}},
    "reproduction_context": {
      "type": "object",
      "properties": {
        "input_pattern": {"type": "string"},
        "required_state": {"type": "string"},
        "tools_involved": {"type": "array", "items": {"type": "string"}}
      }
    },
    "severity": {"type": "string", "enum": ["low", "medium", "high", "critical"]},
    "confidence": {"type": "number"},
    "confidence_rationale": {"type": "string"}
  },
  "required": ["title", "failure_type", "trigger_condition", "summary", "root_cause_hypothesis", "evidence", "recommended_actions", "severity", "confidence", "confidence_rationale"]
}`

// FailurePatternSchema is the parsed form of failurePatternSchemaJSON,
// passed as GenerateRequest.Schema.
var FailurePatternSchema = json.RawMessage(failurePatternSchemaJSON)
