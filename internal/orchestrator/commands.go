package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/cli-runtime/pkg/genericiooptions"
	"k8s.io/client-go/dynamic"

	"github.com/april-dev/sisyphus/internal/diffengine"
	"github.com/april-dev/sisyphus/internal/executor"
	"github.com/april-dev/sisyphus/internal/objkey"
	"github.com/april-dev/sisyphus/internal/printer"
	"github.com/april-dev/sisyphus/internal/store"
)

// pushMunge and refreshMunge mirror the original command's two call sites
// into MungeIgnoredFields: push rewrites both managed fields and secret
// data before diffing (it's about to write the result back); refresh only
// suppresses secret-value noise, since it never writes to the cluster.
var (
	pushMunge    = MungeOptions{MungeManagedFields: true, MungeSecretData: true}
	refreshMunge = MungeOptions{MungeSecretData: true}
)

// Diff renders the monitored directory, loads the stored view, munges both
// sides the way push would, and returns the resulting plan. Used directly
// by the diff command and as the first half of push.
func (o *Orchestrator) Diff(ctx context.Context, monitorDirectory string, filter objkey.PartialKey) ([]diffengine.Action, bool, error) {
	want, err := o.BuildWantSet(ctx, monitorDirectory)
	if err != nil {
		return nil, false, fmt.Errorf("building desired state: %w", err)
	}
	have, err := o.Store.LoadAll(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("loading stored state: %w", err)
	}

	want = want.Filter(filter)
	have = have.Filter(filter)

	if err := MungeIgnoredFields(have, want, pushMunge); err != nil {
		return nil, false, err
	}

	actions, changed := diffengine.GenerateDiff(have, want)
	return actions, changed, nil
}

// Push computes the diff, prints it, asks for confirmation on streams, and
// on "y" executes it against the cluster and database.
func (o *Orchestrator) Push(ctx context.Context, monitorDirectory string, filter objkey.PartialKey, streams genericiooptions.IOStreams) error {
	actions, changed, err := o.Diff(ctx, monitorDirectory, filter)
	if err != nil {
		return err
	}
	if !changed {
		fmt.Fprintln(streams.Out, "Nothing to do.")
		return nil
	}

	printPlan(streams, actions)

	ok, err := confirm(streams, "Continue pushing?")
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(streams.Out, "Aborted.")
		return nil
	}

	return executor.Execute(ctx, o.Clients, o.Store, actions, streams.Out)
}

func resourceFor(clients *executor.Clients, key objkey.Key) (dynamic.ResourceInterface, error) {
	resource, namespaced, err := clients.Resource(key)
	if err != nil {
		return nil, err
	}
	var ri dynamic.ResourceInterface = resource
	if namespaced {
		ri = resource.Namespace(key.Namespace)
	}
	return ri, nil
}

// Import reads a single object from the cluster, strips its managed-field
// history, scrubs any secret material, server-side-applies it under this
// engine's field manager, and records the server's response in the
// database.
func (o *Orchestrator) Import(ctx context.Context, key objkey.Key) error {
	ri, err := resourceFor(o.Clients, key)
	if err != nil {
		return err
	}

	live, err := ri.Get(ctx, key.Name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("reading %s from cluster: %w", key, err)
	}
	live.SetManagedFields(nil)
	live.SetResourceVersion("")
	live.SetUID("")

	existing, err := o.Store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading stored state: %w", err)
	}
	prior := lookupStored(existing, key)
	ScrubSecretData(live, prior)

	data, err := live.MarshalJSON()
	if err != nil {
		return err
	}
	force := true
	applied, err := ri.Patch(ctx, key.Name, types.ApplyPatchType, data, metav1.PatchOptions{
		FieldManager: executor.Manager,
		Force:        &force,
	})
	if err != nil {
		return fmt.Errorf("applying imported %s: %w", key, err)
	}

	if prior != nil {
		return o.Store.Update(ctx, key, applied)
	}
	return o.Store.Insert(ctx, key, applied)
}

// Forget removes a single key's row from the database without touching the
// cluster.
func (o *Orchestrator) Forget(ctx context.Context, key objkey.Key) error {
	return o.Store.Delete(ctx, key)
}

// Refresh re-reads every database-tracked key (optionally narrowed by
// filter) from the cluster, diffs the result against the stored view, and,
// after confirmation, updates the database to match cluster reality. It
// never writes to the cluster.
func (o *Orchestrator) Refresh(ctx context.Context, filter objkey.PartialKey, streams genericiooptions.IOStreams) error {
	have, err := o.Store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading stored state: %w", err)
	}
	have = have.Filter(filter)

	want := objkey.NewSet()
	if err := o.fetchLive(ctx, have.ByKey, want); err != nil {
		return err
	}
	if err := o.fetchLive(ctx, have.Namespaces, want); err != nil {
		return err
	}

	if err := MungeIgnoredFields(have, want, refreshMunge); err != nil {
		return err
	}

	actions, changed := diffengine.GenerateDiff(have, want)
	if !changed {
		fmt.Fprintln(streams.Out, "Nothing to do.")
		return nil
	}

	printPlan(streams, actions)

	ok, err := confirm(streams, "Continue refreshing?")
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(streams.Out, "Aborted.")
		return nil
	}

	return applyRefreshToStore(ctx, o.Store, actions)
}

// fetchLive reads the current cluster state for every key in keys into
// want, treating a 404 as "no longer exists" rather than an error.
func (o *Orchestrator) fetchLive(ctx context.Context, keys map[objkey.Key]*unstructured.Unstructured, want *objkey.Set) error {
	for key := range keys {
		ri, err := resourceFor(o.Clients, key)
		if err != nil {
			return err
		}

		live, err := ri.Get(ctx, key.Name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("reading %s from cluster: %w", key, err)
		}
		if err := want.Put(key, live); err != nil {
			return err
		}
	}
	return nil
}

// applyRefreshToStore applies a refresh plan to the database only: patches
// and recreates both collapse to an Update with the live server object,
// deletes remove the row. No action ever touches the cluster.
func applyRefreshToStore(ctx context.Context, st *store.Store, actions []diffengine.Action) error {
	for _, a := range actions {
		switch a.Kind {
		case diffengine.ActionPatch, diffengine.ActionRecreate:
			if err := st.Update(ctx, a.Key, a.Want); err != nil {
				return err
			}
		case diffengine.ActionDelete:
			if err := st.Delete(ctx, a.Key); err != nil {
				return err
			}
		case diffengine.ActionCreate:
			// refresh's want is always a subset of have's keys, so a
			// create can never be generated; nothing to do if it were.
		}
	}
	return nil
}

func lookupStored(set *objkey.Set, key objkey.Key) *unstructured.Unstructured {
	if v, ok := set.ByKey[key]; ok {
		return v
	}
	if v, ok := set.Namespaces[key]; ok {
		return v
	}
	return nil
}

// printPlan shows the plan's shape as a table first, then the detailed
// line-oriented diff for each action.
func printPlan(streams genericiooptions.IOStreams, actions []diffengine.Action) {
	printer.PrintPlanSummary(streams.Out, actions)
	for _, a := range actions {
		_ = diffengine.PrintAction(streams.Out, a)
	}
}

func confirm(streams genericiooptions.IOStreams, prompt string) (bool, error) {
	fmt.Fprintf(streams.Out, "%s y/(n): ", prompt)
	scanner := bufio.NewScanner(streams.In)
	if !scanner.Scan() {
		return false, scanner.Err()
	}
	answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
	return answer == "y" || answer == "yes", nil
}
