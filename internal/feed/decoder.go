// Package feed decodes the producer's wire envelopes into the tagged update
// union the reconciler consumes. The producer duck-types its payloads; this
// is the one place that duck-typing is pinned down.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"tracer/internal/types"
)

// Envelope type discriminants on the wire.
const (
	TypeHeartbeat = "strategy_heartbeat"
	TypeEvent     = "strategy_event"
)

var (
	// ErrUnknownType marks envelopes this subsystem does not consume
	// (trades, predictions); callers skip them silently.
	ErrUnknownType = errors.New("feed: unknown envelope type")
	// ErrMalformed marks schema violations; callers drop and log.
	ErrMalformed = errors.New("feed: malformed update")
)

// Decoder validates and decodes inbound envelopes.
type Decoder struct {
	heartbeat *jsonschema.Schema
	event     *jsonschema.Schema
}

// NewDecoder compiles the wire schemas.
func NewDecoder() (*Decoder, error) {
	hb, err := jsonschema.CompileString("heartbeat.json", heartbeatSchema)
	if err != nil {
		return nil, fmt.Errorf("compiling heartbeat schema: %w", err)
	}
	ev, err := jsonschema.CompileString("event.json", eventSchema)
	if err != nil {
		return nil, fmt.Errorf("compiling event schema: %w", err)
	}
	return &Decoder{heartbeat: hb, event: ev}, nil
}

// Decode turns one raw envelope into a StrategyUpdate. Schema violations
// return ErrMalformed; envelope types outside this subsystem return
// ErrUnknownType.
func (d *Decoder) Decode(raw []byte) (types.StrategyUpdate, error) {
	if !gjson.ValidBytes(raw) {
		return types.StrategyUpdate{}, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	root := gjson.ParseBytes(raw)
	data := root.Get("data")
	if !data.Exists() {
		return types.StrategyUpdate{}, fmt.Errorf("%w: missing data", ErrMalformed)
	}
	switch root.Get("type").String() {
	case TypeHeartbeat:
		return d.decodeHeartbeat(data)
	case TypeEvent:
		return d.decodeEvent(data)
	default:
		return types.StrategyUpdate{}, ErrUnknownType
	}
}

func (d *Decoder) decodeHeartbeat(data gjson.Result) (types.StrategyUpdate, error) {
	if err := validate(d.heartbeat, data.Raw); err != nil {
		return types.StrategyUpdate{}, err
	}
	at, ok := parseTimestamp(data.Get("heartbeat_at").String())
	if !ok {
		return types.StrategyUpdate{}, fmt.Errorf("%w: unparseable heartbeat_at", ErrMalformed)
	}
	state := data.Get("strategy_state")
	return types.StrategyUpdate{
		Source:       types.SourceHeartbeat,
		RuntimeID:    data.Get("instance_id").String(),
		Seq:          seqOf(state),
		Timestamp:    at,
		Lines:        linesOf(state),
		InstanceName: data.Get("instance_name").String(),
		IsAlive:      true,
	}, nil
}

func (d *Decoder) decodeEvent(data gjson.Result) (types.StrategyUpdate, error) {
	if err := validate(d.event, data.Raw); err != nil {
		return types.StrategyUpdate{}, err
	}
	at, ok := parseTimestamp(data.Get("event_time").String())
	if !ok {
		return types.StrategyUpdate{}, fmt.Errorf("%w: unparseable event_time", ErrMalformed)
	}
	state := data.Get("strategy_state")
	action := types.ParsePositionAction(data.Get("position").String())
	return types.StrategyUpdate{
		Source: types.SourceEvent,
		// The producer's events do not carry the runtime token the
		// heartbeats do, so events never trip the generation check.
		RuntimeID:    data.Get("event_data.instance_id").String(),
		Seq:          seqOf(state),
		Timestamp:    at,
		Lines:        linesOf(state),
		InstanceName: data.Get("instance_name").String(),
		IsAlive:      true,
		EventID:      data.Get("event_id").String(),
		Action:       action,
		Price:        markerPrice(data, action),
		Reason:       data.Get("reason").String(),
	}, nil
}

// DecodeEventHistory parses the bare event array the historic backfill
// endpoint returns. Malformed entries are skipped, not fatal: a partial
// history still seeds the chart.
func (d *Decoder) DecodeEventHistory(raw []byte) ([]types.StrategyUpdate, int, error) {
	if !gjson.ValidBytes(raw) {
		return nil, 0, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	root := gjson.ParseBytes(raw)
	if !root.IsArray() {
		return nil, 0, fmt.Errorf("%w: event history must be an array", ErrMalformed)
	}
	var out []types.StrategyUpdate
	skipped := 0
	root.ForEach(func(_, item gjson.Result) bool {
		u, err := d.decodeEvent(item)
		if err != nil {
			skipped++
			return true
		}
		out = append(out, u)
		return true
	})
	return out, skipped, nil
}

func validate(schema *jsonschema.Schema, raw string) error {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// parseTimestamp accepts RFC3339 with or without sub-second precision.
func parseTimestamp(raw string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func linesOf(state gjson.Result) types.StrategyLineSet {
	return types.StrategyLineSet{
		StopLoss:           priceOf(state, "SL"),
		TakeProfit:         priceOf(state, "TP"),
		Entry:              priceOf(state, "ENTRY"),
		TrailingActivation: priceOf(state, "TSA"),
		TrailingStopActive: state.Get("TRAILING_STOP_ACTIVE").Bool(),
	}
}

func priceOf(state gjson.Result, key string) *float64 {
	v := state.Get(key)
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	f := v.Float()
	return &f
}

func seqOf(state gjson.Result) *int64 {
	v := state.Get("seq")
	if !v.Exists() {
		return nil
	}
	n := v.Int()
	return &n
}

// markerPrice picks the price a point marker should sit at: the entry for
// opens, the close price for closes, falling back to the entry line.
func markerPrice(data gjson.Result, action types.PositionAction) *float64 {
	keys := []string{"event_data.entry_price"}
	if action == types.PositionClose {
		keys = []string{"event_data.current_price", "event_data.entry_price"}
	}
	for _, key := range keys {
		if v := data.Get(key); v.Exists() && v.Type == gjson.Number {
			f := v.Float()
			return &f
		}
	}
	if v := data.Get("strategy_state.ENTRY"); v.Exists() && v.Type == gjson.Number {
		f := v.Float()
		return &f
	}
	return nil
}
