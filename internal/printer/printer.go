// Package printer formats object identities and diff plans for CLI output.
// It adapts the teacher's column-width calculator from a single
// namespace/kind/name triple to this engine's cluster-qualified quintuple
// key, and adds a table-rendered plan summary next to the existing
// per-action diff printer.
package printer

import (
	"fmt"
	"io"

	"github.com/aquasecurity/table"
	"sigs.k8s.io/cli-utils/pkg/object"

	"github.com/april-dev/sisyphus/internal/diffengine"
)

// Len holds the column widths a multi-resource status log lines up against.
type Len struct {
	KindNameMaxLen  int
	NamespaceMaxLen int
}

// CalcLen measures the widest kind/name and namespace strings across
// resources, so status lines for several resources in flight line up.
func CalcLen(resources []object.ObjMetadata) *Len {
	l := &Len{}
	for _, r := range resources {
		kn := fmt.Sprintf("%s/%s", r.GroupKind.Kind, r.Name)
		if len(kn) > l.KindNameMaxLen {
			l.KindNameMaxLen = len(kn)
		}
		ns := r.Namespace
		if ns == "" {
			ns = "(cluster)"
		}
		if len(ns) > l.NamespaceMaxLen {
			l.NamespaceMaxLen = len(ns)
		}
	}
	return l
}

// FormatIdentity renders om padded to lens, so a wait loop reporting on
// several resources keeps its status lines aligned regardless of which
// resource it is currently reporting on.
func FormatIdentity(om object.ObjMetadata, lens *Len) string {
	ns := om.Namespace
	if ns == "" {
		ns = "(cluster)"
	}
	kn := fmt.Sprintf("%s/%s", om.GroupKind.Kind, om.Name)
	return fmt.Sprintf("%-*s %-*s", lens.NamespaceMaxLen, ns, lens.KindNameMaxLen, kn)
}

// PrintPlanSummary renders one row per action ahead of the detailed
// per-action diff, so an operator sees the whole plan's shape before
// scrolling through every individual change.
func PrintPlanSummary(out io.Writer, actions []diffengine.Action) {
	t := table.New(out)
	t.SetHeaders("ACTION", "KIND", "NAME", "NAMESPACE", "CLUSTER")
	for _, a := range actions {
		ns := a.Key.Namespace
		if ns == "" {
			ns = "(cluster)"
		}
		t.AddRow(a.Kind.String(), a.Key.Kind, a.Key.Name, ns, a.Key.Cluster)
	}
	t.Render()
}
