// Package provider exposes published telemetry and configuration parameters
// as named, typed variables for remote-access front ends.
//
// Variables come from a declarative table built once at construction:
// the 16 sample fields, the pulse rate, and the configured parameters.
// Front ends call the adapter from arbitrary goroutines.
package provider

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/e7canasta/pulse-bridge/internal/params"
	"github.com/e7canasta/pulse-bridge/internal/types"
)

// Folders group variables in browse listings
const (
	FolderPulseData     = "PulseData"
	FolderConfiguration = "Configuration"
)

// Snapshotter returns consistent published state
type Snapshotter interface {
	Snapshot() types.PublishedState
}

// Parameter binds a writable variable to a parameter service node.
// KindBool parameters are stored as TokenTrue/TokenFalse tokens.
type Parameter struct {
	Name        string
	Node        string
	Kind        Kind
	Description string
}

// VariableInfo describes a variable for browsing
type VariableInfo struct {
	Name        string `json:"name"`
	Folder      string `json:"folder"`
	Kind        Kind   `json:"kind"`
	Writable    bool   `json:"writable"`
	Node        string `json:"node,omitempty"`
	Description string `json:"description,omitempty"`
}

// Result is the outcome of reading one variable
type Result struct {
	Name  string
	Value Value
	Err   error
}

// Reading is the outcome of ReadMany.
// All telemetry results come from the snapshot with the given version.
type Reading struct {
	Version uint64
	Results []Result
}

// Get returns the result for name
func (r Reading) Get(name string) (Result, bool) {
	for _, res := range r.Results {
		if res.Name == name {
			return res, true
		}
	}
	return Result{}, false
}

type variable struct {
	info VariableInfo
	// telemetry is set for read-only published values
	telemetry func(types.PublishedState) int32
}

// Adapter is the value provider
type Adapter struct {
	store  Snapshotter
	access params.Access

	vars  map[string]*variable
	order []string
}

// New builds the variable table. Parameter names must be unique and must not
// collide with telemetry names.
func New(store Snapshotter, access params.Access, parameters []Parameter) (*Adapter, error) {
	a := &Adapter{
		store:  store,
		access: access,
		vars:   make(map[string]*variable),
	}

	for _, field := range types.SampleFields {
		a.add(&variable{
			info: VariableInfo{
				Name:        field.Name,
				Folder:      FolderPulseData,
				Kind:        KindInt32,
				Description: fmt.Sprintf("Channel %d %s", field.Channel+1, field.Metric),
			},
			telemetry: func(s types.PublishedState) int32 { return field.Value(s.Sample) },
		})
	}
	a.add(&variable{
		info: VariableInfo{
			Name:        types.RateFieldName,
			Folder:      FolderPulseData,
			Kind:        KindInt32,
			Description: "Samples received during the last rate interval",
		},
		telemetry: func(s types.PublishedState) int32 { return int32(s.Rate) },
	})

	for _, p := range parameters {
		if p.Name == "" || p.Node == "" {
			return nil, fmt.Errorf("provider: parameter requires name and node (got %q/%q)", p.Name, p.Node)
		}
		if _, exists := a.vars[p.Name]; exists {
			return nil, fmt.Errorf("provider: duplicate variable %q", p.Name)
		}
		if p.Kind != KindInt32 && p.Kind != KindBool {
			return nil, fmt.Errorf("provider: parameter %q: unsupported kind %s", p.Name, p.Kind)
		}
		a.add(&variable{info: VariableInfo{
			Name:        p.Name,
			Folder:      FolderConfiguration,
			Kind:        p.Kind,
			Writable:    true,
			Node:        p.Node,
			Description: p.Description,
		}})
	}

	return a, nil
}

func (a *Adapter) add(v *variable) {
	a.vars[v.info.Name] = v
	a.order = append(a.order, v.info.Name)
}

// Variables lists all variables in table order
func (a *Adapter) Variables() []VariableInfo {
	infos := make([]VariableInfo, 0, len(a.order))
	for _, name := range a.order {
		infos = append(infos, a.vars[name].info)
	}
	return infos
}

// Lookup returns the description of one variable
func (a *Adapter) Lookup(name string) (VariableInfo, bool) {
	v, ok := a.vars[name]
	if !ok {
		return VariableInfo{}, false
	}
	return v.info, true
}

// Read returns the current value of one variable
func (a *Adapter) Read(name string) (Value, error) {
	v, ok := a.vars[name]
	if !ok {
		return Value{}, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	if v.telemetry != nil {
		return Int32Value(v.telemetry(a.store.Snapshot())), nil
	}
	return a.readParameter(v)
}

// ReadMany reads several variables; all telemetry values come from a single
// snapshot. With no names, every variable is read in table order.
// Per-variable failures are reported in the results, not as an error.
func (a *Adapter) ReadMany(names ...string) Reading {
	if len(names) == 0 {
		names = a.order
	}

	var snap *types.PublishedState
	reading := Reading{Results: make([]Result, 0, len(names))}

	for _, name := range names {
		res := Result{Name: name}
		v, ok := a.vars[name]
		switch {
		case !ok:
			res.Err = fmt.Errorf("%w: %q", ErrUnknownVariable, name)
		case v.telemetry != nil:
			if snap == nil {
				s := a.store.Snapshot()
				snap = &s
				reading.Version = s.Version
			}
			res.Value = Int32Value(v.telemetry(*snap))
		default:
			res.Value, res.Err = a.readParameter(v)
		}
		reading.Results = append(reading.Results, res)
	}

	if snap == nil {
		reading.Version = a.store.Snapshot().Version
	}
	return reading
}

// Write sets a configuration variable
func (a *Adapter) Write(name string, val Value) error {
	v, ok := a.vars[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	if !v.info.Writable {
		return fmt.Errorf("%w: %q", ErrNotWritable, name)
	}
	if val.Kind != v.info.Kind {
		return fmt.Errorf("%w: %q is %s, got %s", ErrTypeMismatch, name, v.info.Kind, val.Kind)
	}

	var err error
	switch v.info.Kind {
	case KindBool:
		err = a.access.SetToken(v.info.Node, EncodeBool(val.Bool))
	case KindInt32:
		err = a.access.SetInt(v.info.Node, val.Int)
	}
	if err != nil {
		return a.parameterError(name, err)
	}

	slog.Info("provider: variable written", "name", name, "value", val.String())
	return nil
}

func (a *Adapter) readParameter(v *variable) (Value, error) {
	switch v.info.Kind {
	case KindBool:
		token, err := a.access.GetToken(v.info.Node)
		if err != nil {
			return Value{}, a.parameterError(v.info.Name, err)
		}
		b, err := DecodeBool(token)
		if err != nil {
			slog.Warn("provider: parameter holds unknown token",
				"name", v.info.Name,
				"node", v.info.Node,
				"token", token,
			)
			return Value{}, fmt.Errorf("%q: %w", v.info.Name, err)
		}
		return BoolValue(b), nil

	default:
		i, err := a.access.GetInt(v.info.Node)
		if err != nil {
			return Value{}, a.parameterError(v.info.Name, err)
		}
		return Int32Value(i), nil
	}
}

// parameterError translates parameter service errors
func (a *Adapter) parameterError(name string, err error) error {
	if errors.Is(err, params.ErrUnavailable) {
		return fmt.Errorf("%w: %q: %v", ErrUnavailable, name, err)
	}
	if errors.Is(err, params.ErrWrongType) {
		return fmt.Errorf("%w: %q: %v", ErrTypeMismatch, name, err)
	}
	return fmt.Errorf("provider: %q: %w", name, err)
}
