package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"
	"sigs.k8s.io/cli-utils/pkg/object"

	"github.com/april-dev/sisyphus/internal/diffengine"
	"github.com/april-dev/sisyphus/internal/objkey"
	"github.com/april-dev/sisyphus/internal/printer"
	"github.com/april-dev/sisyphus/internal/store"
)

// ValidateScopes checks every action's key against the cluster's own view
// of whether its kind is namespaced, up front and over the whole plan: a
// namespaced kind with no namespace, or a cluster-scoped kind carrying one,
// is rejected before anything is applied.
func ValidateScopes(clients *Clients, actions []diffengine.Action) error {
	for _, a := range actions {
		_, namespaced, err := clients.Resource(a.Key)
		if err != nil {
			return err
		}
		if namespaced && a.Key.Namespace == "" {
			return fmt.Errorf("%s: namespaced kind carries no namespace", a.Key)
		}
		if !namespaced && a.Key.Namespace != "" {
			return fmt.Errorf("%s: cluster-scoped kind carries namespace %q", a.Key, a.Key.Namespace)
		}
	}
	return nil
}

type deferredDelete struct {
	resource dynamic.ResourceInterface
	name     string
	key      objkey.Key
}

// Execute validates the plan's scopes, then applies each action against its
// cluster and writes the resulting state through to st. Deletes do not wait
// for their tombstone until every action in the plan has run; recreates wait
// immediately, since their following create would otherwise race the
// terminating object. There is no rollback: a failed action simply stops
// the run, leaving the actions already applied in place.
func Execute(ctx context.Context, clients *Clients, st *store.Store, actions []diffengine.Action, out io.Writer) error {
	if err := ValidateScopes(clients, actions); err != nil {
		return err
	}

	var deferred []deferredDelete
	lens := waitLens(actions)

	for _, a := range actions {
		resource, namespaced, err := clients.Resource(a.Key)
		if err != nil {
			return err
		}
		var ri dynamic.ResourceInterface = resource
		if namespaced {
			ri = resource.Namespace(a.Key.Namespace)
		}

		switch a.Kind {
		case diffengine.ActionCreate:
			applied, err := serverSideApply(ctx, ri, a.Key.Name, a.Want)
			if err != nil {
				return fmt.Errorf("creating %s: %w", a.Key, err)
			}
			if err := st.Insert(ctx, a.Key, applied); err != nil {
				return err
			}

		case diffengine.ActionPatch:
			patchBytes, err := json.Marshal(a.Patch)
			if err != nil {
				return err
			}
			applied, err := ri.Patch(ctx, a.Key.Name, types.JSONPatchType, patchBytes, metav1.PatchOptions{})
			if err != nil {
				return fmt.Errorf("patching %s: %w", a.Key, err)
			}
			if err := st.Update(ctx, a.Key, applied); err != nil {
				return err
			}

		case diffengine.ActionDelete:
			if err := ri.Delete(ctx, a.Key.Name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
				return fmt.Errorf("deleting %s: %w", a.Key, err)
			}
			if err := st.Delete(ctx, a.Key); err != nil {
				return err
			}
			deferred = append(deferred, deferredDelete{resource: ri, name: a.Key.Name, key: a.Key})

		case diffengine.ActionRecreate:
			if err := ri.Delete(ctx, a.Key.Name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
				return fmt.Errorf("deleting %s for recreate: %w", a.Key, err)
			}
			if err := waitForTombstone(ctx, ri, a.Key.Name, a.Key, lens, out); err != nil {
				return fmt.Errorf("waiting for %s to terminate: %w", a.Key, err)
			}
			applied, err := serverSideApply(ctx, ri, a.Key.Name, a.Want)
			if err != nil {
				return fmt.Errorf("recreating %s: %w", a.Key, err)
			}
			if err := st.Update(ctx, a.Key, applied); err != nil {
				return err
			}
		}
	}

	for _, d := range deferred {
		if err := waitForTombstone(ctx, d.resource, d.name, d.key, lens, out); err != nil {
			return fmt.Errorf("waiting for %s to terminate: %w", d.key, err)
		}
	}

	return nil
}

// waitLens measures the identities of every action that might end up
// waiting for a tombstone (deletes and recreates), so their status lines
// line up in columns even though they're printed one at a time, possibly
// interleaved with other plan output.
func waitLens(actions []diffengine.Action) *printer.Len {
	var identities []object.ObjMetadata
	for _, a := range actions {
		if a.Kind == diffengine.ActionDelete || a.Kind == diffengine.ActionRecreate {
			identities = append(identities, a.Key.ObjMetadata())
		}
	}
	return printer.CalcLen(identities)
}

func serverSideApply(ctx context.Context, ri dynamic.ResourceInterface, name string, want *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	data, err := want.MarshalJSON()
	if err != nil {
		return nil, err
	}
	force := true
	return ri.Patch(ctx, name, types.ApplyPatchType, data, metav1.PatchOptions{FieldManager: Manager, Force: &force})
}

// waitForTombstone polls name every 500ms until the API server reports it
// gone. A hint is printed once, after the first sighting that it is still
// present, so a quick delete doesn't print anything at all. The hint is
// padded against lens so several resources waiting in the same plan report
// in aligned columns.
func waitForTombstone(ctx context.Context, ri dynamic.ResourceInterface, name string, key objkey.Key, lens *printer.Len, out io.Writer) error {
	hinted := false
	for {
		_, err := ri.Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			if apierrors.IsNotFound(err) {
				return nil
			}
			return err
		}
		if !hinted {
			fmt.Fprintf(out, "waiting for %s to finish terminating\n", printer.FormatIdentity(key.ObjMetadata(), lens))
			hinted = true
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}
