// Package render lowers higher-level declarations (KubernetesYaml,
// SisyphusDeployment, SisyphusCronJob) plus a configuration-image
// Application into fully-qualified Kubernetes objects keyed by objkey.Key.
package render

import "k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

// Metadata is the common envelope every higher-level document carries.
type Metadata struct {
	Name        string
	Namespace   string
	Labels      map[string]string
	Annotations map[string]string
}

// SecretKeyRef is the only VariableSource variant the engine currently
// supports.
type SecretKeyRef struct {
	Name string
	Key  string
}

// VariableSource binds a configuration program's FileVariable/StringVariable
// name to a concrete Kubernetes value source.
type VariableSource struct {
	SecretKeyRef *SecretKeyRef
}

// FootprintEntry is one cluster's share of a footprint. Replicas is unused
// for CronJob footprints.
type FootprintEntry struct {
	Replicas int32
}

// ServicePortConfig declares that a named, already-rendered container port
// should also be exposed via a Service.
type ServicePortConfig struct {
	Name string
}

// DeploymentServiceConfig is the optional Service half of a
// SisyphusDeployment.
type DeploymentServiceConfig struct {
	Ports []ServicePortConfig
}

// DeploymentConfig is the image-rendering configuration shared by
// SisyphusDeployment and SisyphusCronJob: which configuration image to
// pull, which environment selector to resolve Varying arguments against,
// and how FileVariable/StringVariable names map to secrets.
type DeploymentConfig struct {
	Image       string
	EnvSelector string
	Variables   map[string]VariableSource
}

// KubernetesYaml is a bag of already-resolved raw manifests (inline or
// file-sourced; `sources:` expansion happens in ingestion).
type KubernetesYaml struct {
	APIVersion string
	Metadata   Metadata
	Clusters   []string
	Objects    []unstructured.Unstructured
}

// SisyphusDeployment produces a Deployment, and optionally a Service, per
// footprint entry.
type SisyphusDeployment struct {
	APIVersion string
	Metadata   Metadata
	Config     DeploymentConfig
	Service    *DeploymentServiceConfig
	Footprint  map[string]FootprintEntry
}

// SisyphusCronJob produces a CronJob per footprint entry.
type SisyphusCronJob struct {
	APIVersion        string
	Metadata          Metadata
	Config            DeploymentConfig
	Schedule          string
	ConcurrencyPolicy string
	Footprint         map[string]FootprintEntry
}
