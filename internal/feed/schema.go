package feed

// JSON Schemas for the two inbound envelopes. Validation runs before any
// field extraction so a malformed payload is rejected whole, never applied
// in part.

const heartbeatSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["instance_name", "heartbeat_at"],
  "properties": {
    "instance_name": {"type": "string", "minLength": 1},
    "instance_id": {"type": "string"},
    "heartbeat_at": {"type": "string", "minLength": 1},
    "strategy_state": {"$ref": "#/$defs/strategyState"}
  },
  "$defs": {
    "strategyState": {
      "type": "object",
      "properties": {
        "SL": {"type": ["number", "null"]},
        "TP": {"type": ["number", "null"]},
        "ENTRY": {"type": ["number", "null"]},
        "TSA": {"type": ["number", "null"]},
        "TRAILING_STOP_ACTIVE": {"type": "boolean"},
        "seq": {"type": "integer"}
      }
    }
  }
}`

const eventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["event_id", "event_time", "instance_name", "position"],
  "properties": {
    "event_id": {"type": "string", "minLength": 1},
    "event_time": {"type": "string", "minLength": 1},
    "strategy_instance_id": {"type": "string"},
    "instance_name": {"type": "string", "minLength": 1},
    "position": {"type": "string", "enum": ["OPEN", "CLOSE", "UPDATE"]},
    "reason": {"type": "string"},
    "strategy_state": {"$ref": "#/$defs/strategyState"},
    "event_data": {"type": "object"}
  },
  "$defs": {
    "strategyState": {
      "type": "object",
      "properties": {
        "SL": {"type": ["number", "null"]},
        "TP": {"type": ["number", "null"]},
        "ENTRY": {"type": ["number", "null"]},
        "TSA": {"type": ["number", "null"]},
        "TRAILING_STOP_ACTIVE": {"type": "boolean"},
        "seq": {"type": "integer"}
      }
    }
  }
}`
