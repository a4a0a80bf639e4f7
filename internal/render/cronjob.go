package render

import (
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/april-dev/sisyphus/internal/configimage"
	"github.com/april-dev/sisyphus/internal/objkey"
)

// RenderSisyphusCronJob produces one CronJob per footprint entry. Schedule
// and concurrency policy flow directly from the document.
func RenderSisyphusCronJob(doc SisyphusCronJob, loaded configimage.Loaded, labelNamespace string) (map[objkey.Key]*unstructured.Unstructured, error) {
	if doc.Metadata.Namespace == "" {
		return nil, fmt.Errorf("sisyphus cron job %q: namespace is required", doc.Metadata.Name)
	}

	labels := mergeLabels(doc.Metadata.Labels, labelNamespace, doc.Metadata.Name)
	out := map[objkey.Key]*unstructured.Unstructured{}

	for cluster := range doc.Footprint {
		state := newContainerState()
		container, err := buildContainer(doc.Metadata.Name, loaded, doc.Config, state)
		if err != nil {
			return nil, fmt.Errorf("cluster %q: %w", cluster, err)
		}

		cronJob := &batchv1.CronJob{
			TypeMeta: metav1.TypeMeta{APIVersion: "batch/v1", Kind: "CronJob"},
			ObjectMeta: metav1.ObjectMeta{
				Name:        doc.Metadata.Name,
				Namespace:   doc.Metadata.Namespace,
				Labels:      labels,
				Annotations: doc.Metadata.Annotations,
			},
			Spec: batchv1.CronJobSpec{
				Schedule:          doc.Schedule,
				ConcurrencyPolicy: batchv1.ConcurrencyPolicy(doc.ConcurrencyPolicy),
				JobTemplate: batchv1.JobTemplateSpec{
					ObjectMeta: metav1.ObjectMeta{Labels: labels},
					Spec: batchv1.JobSpec{
						Template: corev1.PodTemplateSpec{
							ObjectMeta: metav1.ObjectMeta{Labels: labels},
							Spec:       basePodSpec(container, state.sortedVolumes()),
						},
					},
				},
			},
		}

		obj, err := toUnstructured(cronJob)
		if err != nil {
			return nil, err
		}
		key := objkey.Key{APIVersion: "batch/v1", Cluster: cluster, Kind: "CronJob", Name: doc.Metadata.Name, Namespace: doc.Metadata.Namespace}
		out[key] = obj
	}
	return out, nil
}
