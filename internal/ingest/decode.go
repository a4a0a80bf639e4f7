package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"

	"github.com/april-dev/sisyphus/internal/render"
)

// decodeDocuments splits a YAML (or JSON) byte stream into its constituent
// documents, the same NewYAMLOrJSONDecoder idiom used for flat manifest
// files, reused here for index.yaml's document stream.
func decodeDocuments(data []byte) ([]map[string]interface{}, error) {
	var docs []map[string]interface{}
	dec := utilyaml.NewYAMLOrJSONDecoder(bytes.NewReader(data), 4096)
	for {
		var raw map[string]interface{}
		if err := dec.Decode(&raw); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if len(raw) == 0 {
			continue
		}
		docs = append(docs, raw)
	}
	return docs, nil
}

func decodeInto(raw map[string]interface{}, target interface{}) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, target)
}

func readDocuments(path string) ([]map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	docs, err := decodeDocuments(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return docs, nil
}

// loadFlatManifests reads a plain Kubernetes-manifest file (no envelope
// discrimination) and returns its objects, rejecting any that already carry
// a namespace: these are meant to be defaulted by the enclosing namespace
// folder, not to declare their own.
func loadFlatManifests(path string) ([]unstructured.Unstructured, error) {
	docs, err := readDocuments(path)
	if err != nil {
		return nil, err
	}
	var out []unstructured.Unstructured
	for _, raw := range docs {
		var obj unstructured.Unstructured
		if err := decodeInto(raw, &obj); err != nil {
			return nil, fmt.Errorf("decoding object in %s: %w", path, err)
		}
		if obj.GetName() == "" {
			return nil, fmt.Errorf("object in %s is missing a name", path)
		}
		out = append(out, obj)
	}
	return out, nil
}

func resourceKeyFor(res Resource) (resourceKey, error) {
	switch {
	case res.KubernetesYaml != nil:
		return resourceKey{APIVersion: res.KubernetesYaml.APIVersion, Kind: "KubernetesYaml", Name: res.KubernetesYaml.Metadata.Name}, nil
	case res.SisyphusDeployment != nil:
		return resourceKey{APIVersion: res.SisyphusDeployment.APIVersion, Kind: "SisyphusDeployment", Name: res.SisyphusDeployment.Metadata.Name}, nil
	case res.SisyphusCronJob != nil:
		return resourceKey{APIVersion: res.SisyphusCronJob.APIVersion, Kind: "SisyphusCronJob", Name: res.SisyphusCronJob.Metadata.Name}, nil
	default:
		return resourceKey{}, fmt.Errorf("resource has no kind set")
	}
}

func insertResource(out map[resourceKey]Resource, res Resource) error {
	key, err := resourceKeyFor(res)
	if err != nil {
		return err
	}
	if _, exists := out[key]; exists {
		return fmt.Errorf("duplicate resource %s/%s %q", key.APIVersion, key.Kind, key.Name)
	}
	out[key] = res
	return nil
}

// processDocuments decodes each raw document by its "kind" envelope,
// expanding KubernetesYaml.sources and recursing through SisyphusYaml
// indirection, inserting every terminal document into out.
func processDocuments(dir string, docs []map[string]interface{}, allowAnyNamespace bool, out map[resourceKey]Resource) error {
	for _, raw := range docs {
		var env envelope
		if err := decodeInto(raw, &env); err != nil {
			return fmt.Errorf("decoding document envelope: %w", err)
		}

		switch env.Kind {
		case "KubernetesYaml":
			var doc render.KubernetesYaml
			if err := decodeInto(raw, &doc); err != nil {
				return fmt.Errorf("decoding KubernetesYaml %q: %w", doc.Metadata.Name, err)
			}
			var withSources struct {
				Sources []string
			}
			if err := decodeInto(raw, &withSources); err != nil {
				return err
			}
			for _, src := range withSources.Sources {
				objs, err := loadFlatManifests(filepath.Join(dir, src))
				if err != nil {
					return err
				}
				doc.Objects = append(doc.Objects, objs...)
			}
			if !allowAnyNamespace {
				for _, obj := range doc.Objects {
					if obj.GetNamespace() != "" {
						return fmt.Errorf("object %q in KubernetesYaml %q must not specify a namespace", obj.GetName(), doc.Metadata.Name)
					}
				}
			}
			if err := insertResource(out, Resource{KubernetesYaml: &doc}); err != nil {
				return err
			}

		case "SisyphusDeployment":
			var doc render.SisyphusDeployment
			if err := decodeInto(raw, &doc); err != nil {
				return fmt.Errorf("decoding SisyphusDeployment: %w", err)
			}
			if err := insertResource(out, Resource{SisyphusDeployment: &doc}); err != nil {
				return err
			}

		case "SisyphusCronJob":
			var doc render.SisyphusCronJob
			if err := decodeInto(raw, &doc); err != nil {
				return fmt.Errorf("decoding SisyphusCronJob: %w", err)
			}
			if err := insertResource(out, Resource{SisyphusCronJob: &doc}); err != nil {
				return err
			}

		case "SisyphusYaml":
			var doc sisyphusYaml
			if err := decodeInto(raw, &doc); err != nil {
				return fmt.Errorf("decoding SisyphusYaml: %w", err)
			}
			for _, src := range doc.Sources {
				nested, err := readDocuments(filepath.Join(dir, src))
				if err != nil {
					return err
				}
				if err := processDocuments(dir, nested, allowAnyNamespace, out); err != nil {
					return err
				}
			}

		default:
			return fmt.Errorf("unknown document kind %q", env.Kind)
		}
	}
	return nil
}
