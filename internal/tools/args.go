package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/kaptinlin/jsonrepair"

	"github.com/ent0n29/personatwin/internal/realtime"
)

const (
	FuncSearch = "search"
	FuncTime   = "get_time"
)

// SearchArgs are the arguments of the search function.
type SearchArgs struct {
	Query string `json:"query" jsonschema:"the question to look up in the knowledge base"`
}

// TimeArgs is empty; get_time takes no arguments.
type TimeArgs struct{}

// Call is a decoded function call: TimeCall, SearchCall or UnknownCall.
type Call interface {
	ID() string
	Function() string
}

type TimeCall struct {
	CallID string
}

type SearchCall struct {
	CallID string
	Args   SearchArgs
}

type UnknownCall struct {
	CallID    string
	Name      string
	Arguments string
}

func (c TimeCall) ID() string         { return c.CallID }
func (c TimeCall) Function() string   { return FuncTime }
func (c SearchCall) ID() string       { return c.CallID }
func (c SearchCall) Function() string { return FuncSearch }
func (c UnknownCall) ID() string      { return c.CallID }
func (c UnknownCall) Function() string {
	return c.Name
}

var ErrInvalidArguments = errors.New("tools: invalid arguments")

type declaration struct {
	tool     realtime.Tool
	resolved *jsonschema.Resolved
}

// Registry holds the declared functions and their argument schemas.
type Registry struct {
	decls map[string]declaration
	order []string
}

func newDeclaration[T any](name, description string) (declaration, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return declaration{}, fmt.Errorf("schema for %s: %w", name, err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return declaration{}, fmt.Errorf("resolve schema for %s: %w", name, err)
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return declaration{}, fmt.Errorf("marshal schema for %s: %w", name, err)
	}
	return declaration{
		tool: realtime.Tool{
			Type:        "function",
			Name:        name,
			Description: description,
			Parameters:  raw,
		},
		resolved: resolved,
	}, nil
}

// NewRegistry declares get_time and search.
func NewRegistry() (*Registry, error) {
	timeDecl, err := newDeclaration[TimeArgs](FuncTime, "Get the current time")
	if err != nil {
		return nil, err
	}
	searchDecl, err := newDeclaration[SearchArgs](FuncSearch,
		"Search the knowledge base for research, trend analyses and insights to answer the user's question")
	if err != nil {
		return nil, err
	}
	return &Registry{
		decls: map[string]declaration{FuncTime: timeDecl, FuncSearch: searchDecl},
		order: []string{FuncTime, FuncSearch},
	}, nil
}

// Tools returns the declarations sent in the session configuration.
func (r *Registry) Tools() []realtime.Tool {
	out := make([]realtime.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.decls[name].tool)
	}
	return out
}

// Parse turns a completed function call into a typed Call. Malformed JSON is
// repaired before decoding; the result is validated against the declared
// schema.
func (r *Registry) Parse(callID, name, arguments string) (Call, error) {
	decl, ok := r.decls[name]
	if !ok {
		return UnknownCall{CallID: callID, Name: name, Arguments: arguments}, nil
	}
	switch name {
	case FuncTime:
		return TimeCall{CallID: callID}, nil
	case FuncSearch:
		var args SearchArgs
		if err := decodeArguments(decl, arguments, &args); err != nil {
			return SearchCall{CallID: callID}, err
		}
		args.Query = strings.TrimSpace(args.Query)
		if args.Query == "" {
			return SearchCall{CallID: callID}, fmt.Errorf("%w: empty query", ErrInvalidArguments)
		}
		return SearchCall{CallID: callID, Args: args}, nil
	}
	return UnknownCall{CallID: callID, Name: name, Arguments: arguments}, nil
}

func decodeArguments(decl declaration, arguments string, v any) error {
	data := []byte(strings.TrimSpace(arguments))
	if len(data) == 0 {
		data = []byte("{}")
	}
	var instance map[string]any
	if err := json.Unmarshal(data, &instance); err != nil {
		var syntaxErr *json.SyntaxError
		if !errors.As(err, &syntaxErr) {
			return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		fixed, rerr := jsonrepair.JSONRepair(string(data))
		if rerr != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArguments, rerr)
		}
		data = []byte(fixed)
		if err := json.Unmarshal(data, &instance); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
	}
	if err := decl.resolved.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}
