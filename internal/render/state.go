package render

import (
	"fmt"
	"path"
	"sort"
	"strconv"

	corev1 "k8s.io/api/core/v1"

	"github.com/april-dev/sisyphus/internal/configimage"
)

// containerState accumulates the ports, volumes, and volume mounts
// discovered while rendering one container's args/env, so repeated
// references to the same Port/FileVariable reuse a single declaration
// (§4.4.1: "registers or reuses").
type containerState struct {
	ports      map[string]corev1.ContainerPort
	portOrder  []string
	volumes    map[string]*corev1.Volume
	volOrder   []string
	mounts     map[string]*corev1.VolumeMount
	mountOrder []string
}

func newContainerState() *containerState {
	return &containerState{
		ports:   map[string]corev1.ContainerPort{},
		volumes: map[string]*corev1.Volume{},
		mounts:  map[string]*corev1.VolumeMount{},
	}
}

func (s *containerState) sortedPorts() []corev1.ContainerPort {
	out := make([]corev1.ContainerPort, 0, len(s.portOrder))
	for _, name := range s.portOrder {
		out = append(out, s.ports[name])
	}
	return out
}

func (s *containerState) sortedVolumes() []corev1.Volume {
	out := make([]corev1.Volume, 0, len(s.volOrder))
	for _, name := range s.volOrder {
		out = append(out, *s.volumes[name])
	}
	return out
}

func (s *containerState) sortedMounts() []corev1.VolumeMount {
	out := make([]corev1.VolumeMount, 0, len(s.mountOrder))
	for _, key := range s.mountOrder {
		out = append(out, *s.mounts[key])
	}
	return out
}

// renderedValue is a scalar string or an env-var value source, never both.
type renderedValue struct {
	str       string
	valueFrom *corev1.EnvVarSource
}

// renderArgument resolves a single Argument to a renderedValue, registering
// any Port/FileVariable side effects in state. forEnv allows StringVariable,
// which only makes sense as an env value, not a positional argument.
func renderArgument(arg configimage.Argument, variables map[string]VariableSource, state *containerState, forEnv bool) (renderedValue, error) {
	switch arg.Kind {
	case configimage.ArgumentString:
		return renderedValue{str: arg.String}, nil

	case configimage.ArgumentPort:
		p := arg.Port
		if existing, ok := state.ports[p.Name]; ok {
			return renderedValue{str: strconv.Itoa(int(existing.ContainerPort))}, nil
		}
		proto := corev1.ProtocolTCP
		if p.Protocol == configimage.ProtocolUDP {
			proto = corev1.ProtocolUDP
		}
		state.ports[p.Name] = corev1.ContainerPort{Name: p.Name, ContainerPort: int32(p.Number), Protocol: proto}
		state.portOrder = append(state.portOrder, p.Name)
		return renderedValue{str: strconv.Itoa(int(p.Number))}, nil

	case configimage.ArgumentFileVariable:
		fv := arg.FileVariable
		src, ok := variables[fv.Name]
		if !ok || src.SecretKeyRef == nil {
			return renderedValue{}, fmt.Errorf("no secret variable source for file variable %q", fv.Name)
		}
		secretName := src.SecretKeyRef.Name
		key := src.SecretKeyRef.Key
		dir := path.Dir(fv.Path)
		base := path.Base(fv.Path)

		vol, ok := state.volumes[secretName]
		if !ok {
			mode := int32(420)
			vol = &corev1.Volume{
				Name: "secret-" + secretName,
				VolumeSource: corev1.VolumeSource{
					Secret: &corev1.SecretVolumeSource{SecretName: secretName, DefaultMode: &mode},
				},
			}
			state.volumes[secretName] = vol
			state.volOrder = append(state.volOrder, secretName)
		}

		hasItem := false
		for _, item := range vol.VolumeSource.Secret.Items {
			if item.Key == key {
				hasItem = true
				break
			}
		}
		if !hasItem {
			vol.VolumeSource.Secret.Items = append(vol.VolumeSource.Secret.Items, corev1.KeyToPath{Key: key, Path: base})
		}

		mountKey := secretName + ":" + dir
		if _, ok := state.mounts[mountKey]; !ok {
			state.mounts[mountKey] = &corev1.VolumeMount{Name: vol.Name, MountPath: dir, ReadOnly: true}
			state.mountOrder = append(state.mountOrder, mountKey)
		}
		return renderedValue{str: fv.Path}, nil

	case configimage.ArgumentStringVariable:
		if !forEnv {
			return renderedValue{}, fmt.Errorf("string variable %q cannot be used as a positional argument", arg.StringVariable.Name)
		}
		sv := arg.StringVariable
		src, ok := variables[sv.Name]
		if !ok || src.SecretKeyRef == nil {
			return renderedValue{}, fmt.Errorf("no secret variable source for string variable %q", sv.Name)
		}
		return renderedValue{valueFrom: &corev1.EnvVarSource{
			SecretKeyRef: &corev1.SecretKeySelector{
				LocalObjectReference: corev1.LocalObjectReference{Name: src.SecretKeyRef.Name},
				Key:                  src.SecretKeyRef.Key,
			},
		}}, nil

	default:
		return renderedValue{}, fmt.Errorf("unrecognized argument kind")
	}
}

// renderArgs resolves each ArgumentValues against selector into the
// container's positional args, silently skipping Varying values with no
// matching selector entry.
func renderArgs(values []configimage.ArgumentValues, selector string, variables map[string]VariableSource, state *containerState) ([]string, error) {
	var out []string
	for _, av := range values {
		arg, ok := av.Resolve(selector)
		if !ok {
			continue
		}
		rv, err := renderArgument(arg, variables, state, false)
		if err != nil {
			return nil, err
		}
		out = append(out, rv.str)
	}
	return out, nil
}

// renderEnv resolves each named ArgumentValues against selector into env
// vars, in a deterministic (sorted by name) order.
func renderEnv(values map[string]configimage.ArgumentValues, selector string, variables map[string]VariableSource, state *containerState) ([]corev1.EnvVar, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []corev1.EnvVar
	for _, name := range names {
		arg, ok := values[name].Resolve(selector)
		if !ok {
			continue
		}
		rv, err := renderArgument(arg, variables, state, true)
		if err != nil {
			return nil, fmt.Errorf("env %q: %w", name, err)
		}
		if rv.valueFrom != nil {
			out = append(out, corev1.EnvVar{Name: name, ValueFrom: rv.valueFrom})
		} else {
			out = append(out, corev1.EnvVar{Name: name, Value: rv.str})
		}
	}
	return out, nil
}

// renderResourceList resolves a resources map (requests or limits) to a
// Kubernetes ResourceList, parsing each rendered value as a Quantity.
func renderResourceList(values map[string]configimage.ArgumentValues, selector string, variables map[string]VariableSource, state *containerState) (corev1.ResourceList, error) {
	if len(values) == 0 {
		return nil, nil
	}
	list := corev1.ResourceList{}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		arg, ok := values[name].Resolve(selector)
		if !ok {
			continue
		}
		rv, err := renderArgument(arg, variables, state, false)
		if err != nil {
			return nil, fmt.Errorf("resource %q: %w", name, err)
		}
		qty, err := parseQuantity(rv.str)
		if err != nil {
			return nil, fmt.Errorf("resource %q: %w", name, err)
		}
		list[corev1.ResourceName(name)] = qty
	}
	return list, nil
}
