package configimage

import (
	"fmt"
	"strconv"

	"go.starlark.net/starlark"
)

// starlarkCtx is the read-only host-metadata object passed to the
// configuration program's main(ctx).
type starlarkCtx struct {
	namespace    string
	hasNamespace bool
}

func (c *starlarkCtx) String() string        { return "<ctx>" }
func (c *starlarkCtx) Type() string          { return "ctx" }
func (c *starlarkCtx) Freeze()               {}
func (c *starlarkCtx) Truth() starlark.Bool  { return starlark.True }
func (c *starlarkCtx) Hash() (uint32, error) { return 0, fmt.Errorf("ctx is not hashable") }

func (c *starlarkCtx) Attr(name string) (starlark.Value, error) {
	if name != "namespace" {
		return nil, nil
	}
	return starlark.NewBuiltin("namespace", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs("namespace", args, kwargs); err != nil {
			return nil, err
		}
		if !c.hasNamespace {
			return nil, fmt.Errorf("ctx.namespace(): no namespace in scope")
		}
		return starlark.String(c.namespace), nil
	}), nil
}

func (c *starlarkCtx) AttrNames() []string { return []string{"namespace"} }

// wrapped values for the domain types constructed from within the program.

type starlarkPort struct{ v Port }

func (s *starlarkPort) String() string        { return fmt.Sprintf("Port(name=%q, number=%d)", s.v.Name, s.v.Number) }
func (s *starlarkPort) Type() string          { return "Port" }
func (s *starlarkPort) Freeze()               {}
func (s *starlarkPort) Truth() starlark.Bool  { return starlark.True }
func (s *starlarkPort) Hash() (uint32, error) { return 0, fmt.Errorf("Port is not hashable") }

type starlarkFileVariable struct{ v FileVariable }

func (s *starlarkFileVariable) String() string { return fmt.Sprintf("FileVariable(name=%q)", s.v.Name) }
func (s *starlarkFileVariable) Type() string   { return "FileVariable" }
func (s *starlarkFileVariable) Freeze()        {}
func (s *starlarkFileVariable) Truth() starlark.Bool { return starlark.True }
func (s *starlarkFileVariable) Hash() (uint32, error) {
	return 0, fmt.Errorf("FileVariable is not hashable")
}

type starlarkStringVariable struct{ v StringVariable }

func (s *starlarkStringVariable) String() string { return fmt.Sprintf("StringVariable(name=%q)", s.v.Name) }
func (s *starlarkStringVariable) Type() string   { return "StringVariable" }
func (s *starlarkStringVariable) Freeze()        {}
func (s *starlarkStringVariable) Truth() starlark.Bool { return starlark.True }
func (s *starlarkStringVariable) Hash() (uint32, error) {
	return 0, fmt.Errorf("StringVariable is not hashable")
}

type starlarkResources struct{ v Resources }

func (s *starlarkResources) String() string        { return "Resources(...)" }
func (s *starlarkResources) Type() string          { return "Resources" }
func (s *starlarkResources) Freeze()               {}
func (s *starlarkResources) Truth() starlark.Bool  { return starlark.True }
func (s *starlarkResources) Hash() (uint32, error) { return 0, fmt.Errorf("Resources is not hashable") }

type starlarkApplication struct{ v Application }

func (s *starlarkApplication) String() string        { return "Application(...)" }
func (s *starlarkApplication) Type() string          { return "Application" }
func (s *starlarkApplication) Freeze()               {}
func (s *starlarkApplication) Truth() starlark.Bool  { return starlark.True }
func (s *starlarkApplication) Hash() (uint32, error) { return 0, fmt.Errorf("Application is not hashable") }

// globals returns the predeclared constructors exposed to every
// configuration program.
func globals() starlark.StringDict {
	return starlark.StringDict{
		"Application":    starlark.NewBuiltin("Application", buildApplication),
		"Port":           starlark.NewBuiltin("Port", buildPort),
		"FileVariable":   starlark.NewBuiltin("FileVariable", buildFileVariable),
		"StringVariable": starlark.NewBuiltin("StringVariable", buildStringVariable),
		"Resources":      starlark.NewBuiltin("Resources", buildResources),
	}
}

func buildPort(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var number int
	var protocol starlark.String = "TCP"
	if err := starlark.UnpackArgs("Port", args, kwargs, "name", &name, "number", &number, "protocol?", &protocol); err != nil {
		return nil, err
	}
	proto := Protocol(protocol)
	if proto != ProtocolTCP && proto != ProtocolUDP {
		return nil, fmt.Errorf("Port: protocol must be TCP or UDP, got %q", protocol)
	}
	if number < 0 || number > 65535 {
		return nil, fmt.Errorf("Port: number out of range: %d", number)
	}
	return &starlarkPort{v: Port{Name: name, Number: uint16(number), Protocol: proto}}, nil
}

func buildFileVariable(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, path string
	if err := starlark.UnpackArgs("FileVariable", args, kwargs, "name", &name, "path", &path); err != nil {
		return nil, err
	}
	return &starlarkFileVariable{v: FileVariable{Name: name, Path: path}}, nil
}

func buildStringVariable(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs("StringVariable", args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	return &starlarkStringVariable{v: StringVariable{Name: name}}, nil
}

func buildResources(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var requests, limits starlark.Value = starlark.None, starlark.None
	if err := starlark.UnpackArgs("Resources", args, kwargs, "requests?", &requests, "limits?", &limits); err != nil {
		return nil, err
	}
	reqs, err := unpackArgumentValueMap(requests)
	if err != nil {
		return nil, fmt.Errorf("Resources.requests: %w", err)
	}
	lims, err := unpackArgumentValueMap(limits)
	if err != nil {
		return nil, fmt.Errorf("Resources.limits: %w", err)
	}
	return &starlarkResources{v: Resources{Requests: reqs, Limits: lims}}, nil
}

func buildApplication(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var argsVal, envVal, resourcesVal starlark.Value = starlark.None, starlark.None, starlark.None
	if err := starlark.UnpackArgs("Application", args, kwargs, "args?", &argsVal, "env?", &envVal, "resources?", &resourcesVal); err != nil {
		return nil, err
	}

	var argList []ArgumentValues
	if argsVal != starlark.None {
		iterable, ok := argsVal.(starlark.Iterable)
		if !ok {
			return nil, fmt.Errorf("Application.args must be a list")
		}
		iter := iterable.Iterate()
		defer iter.Done()
		var item starlark.Value
		for iter.Next(&item) {
			av, err := unpackArgumentValue(item)
			if err != nil {
				return nil, fmt.Errorf("Application.args: %w", err)
			}
			argList = append(argList, av)
		}
	}

	env, err := unpackArgumentValueMap(envVal)
	if err != nil {
		return nil, fmt.Errorf("Application.env: %w", err)
	}

	var resources Resources
	if resourcesVal != starlark.None {
		r, ok := resourcesVal.(*starlarkResources)
		if !ok {
			return nil, fmt.Errorf("Application.resources must be a Resources() value")
		}
		resources = r.v
	}

	return &starlarkApplication{v: Application{Args: argList, Env: env, Resources: resources}}, nil
}

// unpackArgumentValueMap decodes a starlark dict (or None) into a
// map[string]ArgumentValues, keyed by env-var/selector name.
func unpackArgumentValueMap(v starlark.Value) (map[string]ArgumentValues, error) {
	if v == starlark.None || v == nil {
		return nil, nil
	}
	dict, ok := v.(*starlark.Dict)
	if !ok {
		return nil, fmt.Errorf("expected a dict, got %s", v.Type())
	}
	result := map[string]ArgumentValues{}
	for _, item := range dict.Items() {
		keyVal, valVal := item[0], item[1]
		key, ok := starlark.AsString(keyVal)
		if !ok {
			return nil, fmt.Errorf("dict keys must be strings, got %s", keyVal.Type())
		}
		av, err := unpackArgumentValue(valVal)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		result[key] = av
	}
	return result, nil
}

// unpackArgumentValue coerces a starlark value into an ArgumentValues: a
// dict becomes Varying (entries with a None value are silently filtered),
// anything else becomes Uniform via unpackArgument.
func unpackArgumentValue(v starlark.Value) (ArgumentValues, error) {
	if v == starlark.None || v == nil {
		return ArgumentValues{}, fmt.Errorf("argument value must not be null")
	}
	if dict, ok := v.(*starlark.Dict); ok {
		varying := map[string]Argument{}
		for _, item := range dict.Items() {
			keyVal, valVal := item[0], item[1]
			key, ok := starlark.AsString(keyVal)
			if !ok {
				return ArgumentValues{}, fmt.Errorf("varying argument keys must be strings, got %s", keyVal.Type())
			}
			if valVal == starlark.None {
				continue
			}
			arg, err := unpackArgument(valVal)
			if err != nil {
				return ArgumentValues{}, fmt.Errorf("selector %q: %w", key, err)
			}
			varying[key] = arg
		}
		return ArgumentValues{Varying: varying}, nil
	}
	arg, err := unpackArgument(v)
	if err != nil {
		return ArgumentValues{}, err
	}
	return ArgumentValues{Uniform: &arg}, nil
}

// unpackArgument resolves a single starlark value to an Argument. Bool,
// int, float, and string primitives are all coerced to the String variant.
func unpackArgument(v starlark.Value) (Argument, error) {
	switch val := v.(type) {
	case *starlarkPort:
		return Argument{Kind: ArgumentPort, Port: val.v}, nil
	case *starlarkFileVariable:
		return Argument{Kind: ArgumentFileVariable, FileVariable: val.v}, nil
	case *starlarkStringVariable:
		return Argument{Kind: ArgumentStringVariable, StringVariable: val.v}, nil
	case starlark.String:
		return Argument{Kind: ArgumentString, String: string(val)}, nil
	case starlark.Bool:
		return Argument{Kind: ArgumentString, String: strconv.FormatBool(bool(val))}, nil
	case starlark.Int:
		return Argument{Kind: ArgumentString, String: val.String()}, nil
	case starlark.Float:
		return Argument{Kind: ArgumentString, String: strconv.FormatFloat(float64(val), 'g', -1, 64)}, nil
	default:
		return Argument{}, fmt.Errorf("unsupported argument type %s", v.Type())
	}
}
