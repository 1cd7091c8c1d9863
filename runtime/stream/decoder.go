package stream

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// DefaultPrefix is the field marker preceding every record payload.
const DefaultPrefix = "data:"

// doneSentinel is the conventional SSE end-of-stream payload.
const doneSentinel = "[DONE]"

var (
	// ErrMissingPrefix indicates a record without the payload marker (SSE
	// comments, event names, stray text).
	ErrMissingPrefix = errors.New("stream: record has no data prefix")
	// ErrUnrecognized indicates a well-formed payload matching no Event variant.
	ErrUnrecognized = errors.New("stream: unrecognized record")
)

//go:embed event.schema.json
var eventSchema []byte

type (
	// Decoder maps framed records to Events. A Decoder is immutable after
	// construction and safe for concurrent use.
	Decoder struct {
		prefix string
		schema *jsonschema.Schema
	}

	// DecoderOption configures a Decoder.
	DecoderOption func(*decoderOptions)

	decoderOptions struct {
		prefix   string
		validate bool
	}

	envelope struct {
		Type       string          `json:"type"`
		Content    *string         `json:"content"`
		Done       bool            `json:"done"`
		Waiting    bool            `json:"waiting"`
		Error      json.RawMessage `json:"error"`
		Message    string          `json:"message"`
		CodebookID json.RawMessage `json:"codebook_id"`
		Data       json.RawMessage `json:"data"`
	}

	hitlData struct {
		Type                    string            `json:"type"`
		Question                string            `json:"question"`
		Options                 []Option          `json:"options"`
		Plan                    []json.RawMessage `json:"plan"`
		Message                 string            `json:"message"`
		NegotiationResponse     json.RawMessage   `json:"negotiation_response"`
		NegotiationLimitReached bool              `json:"negotiation_limit_reached"`
	}

	progressData struct {
		Step    json.RawMessage `json:"step"`
		Phase   Phase           `json:"phase"`
		Success *bool           `json:"success"`
	}

	textData struct {
		Text       string          `json:"text"`
		Content    string          `json:"content"`
		Message    string          `json:"message"`
		CodebookID json.RawMessage `json:"codebook_id"`
	}
)

// WithPrefix overrides the record payload marker. Defaults to "data:".
func WithPrefix(prefix string) DecoderOption {
	return func(o *decoderOptions) { o.prefix = prefix }
}

// WithSchemaValidation validates each payload against the embedded event
// schema before mapping it. Records failing validation are rejected like any
// other malformed record.
func WithSchemaValidation() DecoderOption {
	return func(o *decoderOptions) { o.validate = true }
}

// NewDecoder builds a Decoder. It fails only when schema validation is
// requested and the embedded schema cannot be compiled.
func NewDecoder(opts ...DecoderOption) (*Decoder, error) {
	o := decoderOptions{prefix: DefaultPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	d := &Decoder{prefix: o.prefix}
	if o.validate {
		schema, err := compileEventSchema()
		if err != nil {
			return nil, err
		}
		d.schema = schema
	}
	return d, nil
}

// Decode strips the record prefix and maps the payload to an Event. Errors
// describe why the record was rejected; callers skip rejected records.
func (d *Decoder) Decode(record string) (Event, error) {
	payload, ok := strings.CutPrefix(record, d.prefix)
	if !ok {
		return nil, ErrMissingPrefix
	}
	payload = strings.TrimSpace(payload)
	if payload == doneSentinel {
		return Done{}, nil
	}
	if d.schema != nil {
		inst, err := jsonschema.UnmarshalJSON(strings.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("stream: decode payload: %w", err)
		}
		if err := d.schema.Validate(inst); err != nil {
			return nil, fmt.Errorf("stream: invalid payload: %w", err)
		}
	}
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, fmt.Errorf("stream: decode payload: %w", err)
	}
	return env.event()
}

func (env envelope) event() (Event, error) {
	switch env.Type {
	case "":
		return env.untyped()
	case string(EventHITLQuestion):
		return decodeHITL(env.Data)
	case string(EventProgress):
		return decodeProgress(env.Data)
	case string(EventMeta):
		id := flexText(env.CodebookID)
		if id == "" && hasObject(env.Data) {
			var data textData
			if err := json.Unmarshal(env.Data, &data); err != nil {
				return nil, fmt.Errorf("stream: decode meta: %w", err)
			}
			id = flexText(data.CodebookID)
		}
		return Meta{CodebookID: id}, nil
	case string(EventContentDelta), "delta":
		if env.Content != nil {
			return ContentDelta{Text: *env.Content}, nil
		}
		if hasObject(env.Data) {
			var data textData
			if err := json.Unmarshal(env.Data, &data); err != nil {
				return nil, fmt.Errorf("stream: decode content: %w", err)
			}
			return ContentDelta{Text: firstNonEmpty(data.Text, data.Content)}, nil
		}
		return nil, fmt.Errorf("%w: content record without text", ErrUnrecognized)
	case string(EventWaiting):
		return Waiting{}, nil
	case string(EventDone):
		return Done{}, nil
	case string(EventError):
		return Error{Message: env.errorMessage()}, nil
	default:
		return nil, fmt.Errorf("%w: type %q", ErrUnrecognized, env.Type)
	}
}

// untyped maps payloads identified by field presence rather than a type
// discriminant, e.g. {"content":"..."} or {"done":true}.
func (env envelope) untyped() (Event, error) {
	switch {
	case len(env.Error) > 0 && !bytes.Equal(bytes.TrimSpace(env.Error), []byte("null")):
		return Error{Message: env.errorMessage()}, nil
	case env.Done:
		return Done{}, nil
	case env.Waiting:
		return Waiting{}, nil
	case env.Content != nil:
		return ContentDelta{Text: *env.Content}, nil
	case flexText(env.CodebookID) != "":
		return Meta{CodebookID: flexText(env.CodebookID)}, nil
	}
	return nil, ErrUnrecognized
}

func (env envelope) errorMessage() string {
	raw := bytes.TrimSpace(env.Error)
	if len(raw) > 0 && raw[0] == '{' {
		var obj struct {
			Message string `json:"message"`
			Detail  string `json:"detail"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil {
			if msg := firstNonEmpty(obj.Message, obj.Detail); msg != "" {
				return msg
			}
		}
	}
	if msg := flexText(raw); msg != "" {
		return msg
	}
	if env.Message != "" {
		return env.Message
	}
	if hasObject(env.Data) {
		var data textData
		if err := json.Unmarshal(env.Data, &data); err == nil {
			return data.Message
		}
	}
	return ""
}

func decodeHITL(raw json.RawMessage) (Event, error) {
	if !hasObject(raw) {
		return nil, fmt.Errorf("%w: hitl_question without data", ErrUnrecognized)
	}
	var data hitlData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("stream: decode hitl_question: %w", err)
	}
	plan, err := decodePlan(data.Plan)
	if err != nil {
		return nil, fmt.Errorf("stream: decode hitl_question plan: %w", err)
	}
	return HITLQuestion{
		Subtype:                 data.Type,
		Question:                data.Question,
		Options:                 data.Options,
		Plan:                    plan,
		Message:                 data.Message,
		NegotiationResponse:     flexText(data.NegotiationResponse),
		NegotiationLimitReached: data.NegotiationLimitReached,
	}, nil
}

// decodePlan keeps the indices the server sent, including zero. Items
// without an index take their 1-based position. If the result still has
// duplicates, the whole plan is renumbered by position so every step stays
// addressable.
func decodePlan(raws []json.RawMessage) ([]PlanItem, error) {
	if raws == nil {
		return nil, nil
	}
	items := make([]PlanItem, len(raws))
	seen := make(map[int]bool, len(raws))
	unique := true
	for i, raw := range raws {
		if err := json.Unmarshal(raw, &items[i]); err != nil {
			return nil, err
		}
		if !hasPlanIndex(raw) {
			items[i].Index = i + 1
		}
		if seen[items[i].Index] {
			unique = false
		}
		seen[items[i].Index] = true
	}
	if !unique {
		for i := range items {
			items[i].Index = i + 1
		}
	}
	return items, nil
}

func decodeProgress(raw json.RawMessage) (Event, error) {
	if !hasObject(raw) {
		return nil, fmt.Errorf("%w: progress without data", ErrUnrecognized)
	}
	var data progressData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("stream: decode progress: %w", err)
	}
	switch data.Phase {
	case PhaseStart, PhaseFinish:
	default:
		return nil, fmt.Errorf("%w: progress phase %q", ErrUnrecognized, data.Phase)
	}
	return Progress{Step: flexInt(data.Step), Phase: data.Phase, Success: data.Success}, nil
}

func hasObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func compileEventSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(eventSchema))
	if err != nil {
		return nil, fmt.Errorf("stream: unmarshal event schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("event.schema.json", doc); err != nil {
		return nil, fmt.Errorf("stream: add event schema: %w", err)
	}
	schema, err := c.Compile("event.schema.json")
	if err != nil {
		return nil, fmt.Errorf("stream: compile event schema: %w", err)
	}
	return schema, nil
}
