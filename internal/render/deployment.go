package render

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	"github.com/april-dev/sisyphus/internal/configimage"
	"github.com/april-dev/sisyphus/internal/objkey"
)

const selectorLabelFmt = "%s/app"

func mergeLabels(input map[string]string, labelNamespace, name string) map[string]string {
	labels := map[string]string{}
	for k, v := range input {
		labels[k] = v
	}
	labels[fmt.Sprintf(selectorLabelFmt, labelNamespace)] = name
	return labels
}

func buildContainer(name string, loaded configimage.Loaded, cfg DeploymentConfig, state *containerState) (corev1.Container, error) {
	args, err := renderArgs(loaded.Application.Args, cfg.EnvSelector, cfg.Variables, state)
	if err != nil {
		return corev1.Container{}, fmt.Errorf("rendering args: %w", err)
	}
	env, err := renderEnv(loaded.Application.Env, cfg.EnvSelector, cfg.Variables, state)
	if err != nil {
		return corev1.Container{}, fmt.Errorf("rendering env: %w", err)
	}
	requests, err := renderResourceList(loaded.Application.Resources.Requests, cfg.EnvSelector, cfg.Variables, state)
	if err != nil {
		return corev1.Container{}, fmt.Errorf("rendering resource requests: %w", err)
	}
	limits, err := renderResourceList(loaded.Application.Resources.Limits, cfg.EnvSelector, cfg.Variables, state)
	if err != nil {
		return corev1.Container{}, fmt.Errorf("rendering resource limits: %w", err)
	}

	return corev1.Container{
		Name:                     name,
		Image:                    fmt.Sprintf("%s@%s", loaded.Index.BinaryRepository, loaded.Index.BinaryDigest),
		Args:                     args,
		Env:                      env,
		Ports:                    state.sortedPorts(),
		VolumeMounts:             state.sortedMounts(),
		ImagePullPolicy:          corev1.PullIfNotPresent,
		TerminationMessagePath:   "/dev/termination-log",
		TerminationMessagePolicy: corev1.TerminationMessageReadFile,
		Resources: corev1.ResourceRequirements{
			Requests: requests,
			Limits:   limits,
		},
	}, nil
}

func basePodSpec(container corev1.Container, volumes []corev1.Volume) corev1.PodSpec {
	return corev1.PodSpec{
		DNSPolicy:                     corev1.DNSClusterFirst,
		RestartPolicy:                 corev1.RestartPolicyAlways,
		SchedulerName:                 "default-scheduler",
		SecurityContext:               &corev1.PodSecurityContext{},
		TerminationGracePeriodSeconds: ptr.To(int64(30)),
		Containers:                    []corev1.Container{container},
		Volumes:                       volumes,
	}
}

func toUnstructured(obj interface{}) (*unstructured.Unstructured, error) {
	m, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return nil, fmt.Errorf("converting to unstructured: %w", err)
	}
	return &unstructured.Unstructured{Object: m}, nil
}

// RenderSisyphusDeployment produces one Deployment (and, if service ports
// are configured, one Service) per footprint entry.
func RenderSisyphusDeployment(doc SisyphusDeployment, loaded configimage.Loaded, labelNamespace string) (map[objkey.Key]*unstructured.Unstructured, error) {
	if doc.Metadata.Namespace == "" {
		return nil, fmt.Errorf("sisyphus deployment %q: namespace is required", doc.Metadata.Name)
	}

	labels := mergeLabels(doc.Metadata.Labels, labelNamespace, doc.Metadata.Name)
	out := map[objkey.Key]*unstructured.Unstructured{}

	for cluster, entry := range doc.Footprint {
		state := newContainerState()
		container, err := buildContainer(doc.Metadata.Name, loaded, doc.Config, state)
		if err != nil {
			return nil, fmt.Errorf("cluster %q: %w", cluster, err)
		}

		replicas := entry.Replicas
		deployment := &appsv1.Deployment{
			TypeMeta: metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
			ObjectMeta: metav1.ObjectMeta{
				Name:        doc.Metadata.Name,
				Namespace:   doc.Metadata.Namespace,
				Labels:      labels,
				Annotations: doc.Metadata.Annotations,
			},
			Spec: appsv1.DeploymentSpec{
				Replicas:                &replicas,
				ProgressDeadlineSeconds: ptr.To(int32(600)),
				RevisionHistoryLimit:    ptr.To(int32(10)),
				Selector:                &metav1.LabelSelector{MatchLabels: labels},
				Strategy: appsv1.DeploymentStrategy{
					Type: appsv1.RollingUpdateDeploymentStrategyType,
					RollingUpdate: &appsv1.RollingUpdateDeployment{
						MaxSurge:       ptrIntOrString(intstr.FromString("25%")),
						MaxUnavailable: ptrIntOrString(intstr.FromString("25%")),
					},
				},
				Template: corev1.PodTemplateSpec{
					ObjectMeta: metav1.ObjectMeta{Labels: labels},
					Spec:       basePodSpec(container, state.sortedVolumes()),
				},
			},
		}

		obj, err := toUnstructured(deployment)
		if err != nil {
			return nil, err
		}
		key := objkey.Key{APIVersion: "apps/v1", Cluster: cluster, Kind: "Deployment", Name: doc.Metadata.Name, Namespace: doc.Metadata.Namespace}
		out[key] = obj

		if doc.Service != nil && len(doc.Service.Ports) > 0 {
			svc, err := buildService(doc.Metadata.Name, doc.Metadata.Namespace, labels, doc.Service.Ports, state)
			if err != nil {
				return nil, fmt.Errorf("cluster %q: %w", cluster, err)
			}
			svcObj, err := toUnstructured(svc)
			if err != nil {
				return nil, err
			}
			svcKey := objkey.Key{APIVersion: "v1", Cluster: cluster, Kind: "Service", Name: doc.Metadata.Name, Namespace: doc.Metadata.Namespace}
			out[svcKey] = svcObj
		}
	}
	return out, nil
}

func buildService(name, namespace string, labels map[string]string, ports []ServicePortConfig, state *containerState) (*corev1.Service, error) {
	var svcPorts []corev1.ServicePort
	for _, p := range ports {
		cp, ok := state.ports[p.Name]
		if !ok {
			return nil, fmt.Errorf("service port %q does not reference a rendered container port", p.Name)
		}
		svcPorts = append(svcPorts, corev1.ServicePort{
			Name:       p.Name,
			Port:       cp.ContainerPort,
			Protocol:   cp.Protocol,
			TargetPort: intstr.FromString(p.Name),
		})
	}
	return &corev1.Service{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: labels},
		Spec: corev1.ServiceSpec{
			Selector: labels,
			Ports:    svcPorts,
		},
	}, nil
}

func ptrIntOrString(v intstr.IntOrString) *intstr.IntOrString { return &v }
