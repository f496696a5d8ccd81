// Package types converts between the northbound wire messages and the
// simulator's domain types.
//
// The gRPC surface carries google.protobuf.Struct in both directions so
// no generated code is needed. The JSON body of a Struct response is
// identical to the HTTP response body.
package types

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/meshroute/internal/routing"
	"github.com/signalsfoundry/meshroute/internal/transmit"
	"github.com/signalsfoundry/meshroute/model"
)

// ErrInvalidMessage indicates a request Struct with missing or badly typed
// fields.
var ErrInvalidMessage = errors.New("invalid message")

// Request field names.
const (
	FieldPayload  = "payload"
	FieldText     = "text"
	FieldSrc      = "src"
	FieldDst      = "dst"
	FieldFilename = "filename"
)

// Default endpoints used when a request leaves src or dst empty.
var (
	DefaultSrc = model.NodeID{Plane: 0, Slot: 0}
	DefaultDst = model.NodeID{Plane: 2, Slot: 5}
)

// TransmitRequest is the decoded form of a northbound transmit call.
type TransmitRequest struct {
	Payload  []byte
	Src      string
	Dst      string
	Filename string
}

// RequestFromStruct decodes a transmit request. payload is standard
// base64; text, if payload is absent, is sent verbatim.
func RequestFromStruct(s *structpb.Struct) (TransmitRequest, error) {
	if s == nil {
		return TransmitRequest{}, fmt.Errorf("%w: request is required", ErrInvalidMessage)
	}
	var req TransmitRequest
	var err error
	fields := s.GetFields()

	if req.Src, err = stringField(fields, FieldSrc); err != nil {
		return TransmitRequest{}, err
	}
	if req.Dst, err = stringField(fields, FieldDst); err != nil {
		return TransmitRequest{}, err
	}
	if req.Filename, err = stringField(fields, FieldFilename); err != nil {
		return TransmitRequest{}, err
	}

	payload, err := stringField(fields, FieldPayload)
	if err != nil {
		return TransmitRequest{}, err
	}
	if payload != "" {
		req.Payload, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return TransmitRequest{}, fmt.Errorf("%w: payload is not base64: %v", ErrInvalidMessage, err)
		}
		return req, nil
	}
	text, err := stringField(fields, FieldText)
	if err != nil {
		return TransmitRequest{}, err
	}
	req.Payload = []byte(text)
	return req, nil
}

// RequestToStruct is the client-side inverse of RequestFromStruct.
func RequestToStruct(req TransmitRequest) (*structpb.Struct, error) {
	m := map[string]any{
		FieldPayload: base64.StdEncoding.EncodeToString(req.Payload),
	}
	if req.Src != "" {
		m[FieldSrc] = req.Src
	}
	if req.Dst != "" {
		m[FieldDst] = req.Dst
	}
	if req.Filename != "" {
		m[FieldFilename] = req.Filename
	}
	return structpb.NewStruct(m)
}

func stringField(fields map[string]*structpb.Value, name string) (string, error) {
	v, ok := fields[name]
	if !ok || v == nil {
		return "", nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue, nil
	case *structpb.Value_NullValue:
		return "", nil
	default:
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidMessage, name)
	}
}

// ParseEndpoints resolves src and dst labels against shape, substituting
// the defaults for empty values.
func ParseEndpoints(src, dst string, shape model.Shape) (model.NodeID, model.NodeID, error) {
	s, err := parseEndpoint(src, DefaultSrc, shape)
	if err != nil {
		return model.NodeID{}, model.NodeID{}, fmt.Errorf("src: %w", err)
	}
	d, err := parseEndpoint(dst, DefaultDst, shape)
	if err != nil {
		return model.NodeID{}, model.NodeID{}, fmt.Errorf("dst: %w", err)
	}
	return s, d, nil
}

func parseEndpoint(raw string, def model.NodeID, shape model.Shape) (model.NodeID, error) {
	if strings.TrimSpace(raw) == "" {
		if !shape.Contains(def) {
			return model.NodeID{}, fmt.Errorf("%w: default %s outside %dx%d", routing.ErrNodeOutOfRange, def, shape.Planes, shape.Slots)
		}
		return def, nil
	}
	id, err := model.ParseNodeID(raw)
	if err != nil {
		return model.NodeID{}, err
	}
	if !shape.Contains(id) {
		return model.NodeID{}, fmt.Errorf("%w: %s outside %dx%d", routing.ErrNodeOutOfRange, id, shape.Planes, shape.Slots)
	}
	return id, nil
}

// ToStruct encodes any JSON-marshalable value as a Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: value does not encode as a JSON object", ErrInvalidMessage)
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes a Struct into v through its JSON form.
func FromStruct(s *structpb.Struct, v any) error {
	raw, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal struct: %w", err)
	}
	return json.Unmarshal(raw, v)
}

// ResponseToStruct encodes a transmission response.
func ResponseToStruct(resp *transmit.Response) (*structpb.Struct, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", ErrInvalidMessage)
	}
	return ToStruct(resp)
}

// RouteView is the wire form of one evaluated route.
type RouteView struct {
	RouteID  int                `json:"route_id"`
	Strategy model.Strategy     `json:"strategy"`
	Hops     int                `json:"hops"`
	Path     []string           `json:"path"`
	Metrics  model.RouteMetrics `json:"metrics"`
}

// DecisionView is the wire form of a routing decision.
type DecisionView struct {
	Src       string      `json:"src"`
	Dst       string      `json:"dst"`
	Routes    []RouteView `json:"routes"`
	Features  [][]float64 `json:"features"`
	Adjacency [][]float64 `json:"adjacency"`
}

// NewDecisionView flattens d for the wire.
func NewDecisionView(src, dst model.NodeID, d routing.Decision) DecisionView {
	out := DecisionView{
		Src:       src.Label(),
		Dst:       dst.Label(),
		Routes:    make([]RouteView, 0, len(d.Routes)),
		Features:  d.Features,
		Adjacency: d.Adjacency,
	}
	for _, r := range d.Routes {
		v := RouteView{RouteID: r.ID, Strategy: r.Strategy, Hops: r.Hops, Path: r.LinkNames()}
		if r.Metrics != nil {
			v.Metrics = *r.Metrics
		}
		out.Routes = append(out.Routes, v)
	}
	return out
}
