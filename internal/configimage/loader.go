// Package configimage pulls a configuration image, unpacks its layers,
// and evaluates its embedded configuration program into an Application.
package configimage

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"go.starlark.net/starlark"
	"golang.org/x/sync/errgroup"

	"github.com/april-dev/sisyphus/internal/registry"
)

// Loaded is the result of pulling and evaluating a configuration image.
type Loaded struct {
	Index       Index
	Application Application
}

// Load pulls image via pool, unpacks its layers into a scratch directory
// that is removed before returning, reads index.json, and evaluates the
// configuration program to produce an Application. When hasNamespace is
// false, the program's ctx.namespace() call fails.
func Load(ctx context.Context, pool *registry.Pool, log logr.Logger, image, namespace string, hasNamespace bool) (*Loaded, error) {
	img, err := pool.FetchImage(ctx, image)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "configimage-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := unpackLayers(ctx, img, dir); err != nil {
		return nil, err
	}

	index, err := readIndex(dir)
	if err != nil {
		return nil, err
	}

	app, err := evaluate(filepath.Join(dir, index.ConfigEntrypoint), namespace, hasNamespace)
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", index.ConfigEntrypoint, err)
	}

	log.V(1).Info("loaded configuration image", "image", image, "entrypoint", index.ConfigEntrypoint)
	return &Loaded{Index: *index, Application: *app}, nil
}

// LoadFromDirectory evaluates a configuration program directly from an
// already-unpacked directory on disk, bypassing the registry entirely.
// Used by the app run-config local-execution helper.
func LoadFromDirectory(dir, namespace string, hasNamespace bool) (*Loaded, error) {
	index, err := readIndex(dir)
	if err != nil {
		return nil, err
	}

	app, err := evaluate(filepath.Join(dir, index.ConfigEntrypoint), namespace, hasNamespace)
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", index.ConfigEntrypoint, err)
	}

	return &Loaded{Index: *index, Application: *app}, nil
}

// unpackLayers fetches and extracts every layer concurrently; failure of
// any cancels the rest.
func unpackLayers(ctx context.Context, img v1.Image, dir string) error {
	layers, err := img.Layers()
	if err != nil {
		return fmt.Errorf("reading layers: %w", err)
	}

	group, _ := errgroup.WithContext(ctx)
	for _, layer := range layers {
		layer := layer
		group.Go(func() error {
			return unpackLayer(layer, dir)
		})
	}
	return group.Wait()
}

func unpackLayer(layer v1.Layer, dir string) error {
	rc, err := layer.Uncompressed()
	if err != nil {
		return fmt.Errorf("reading layer: %w", err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		target, err := safeJoin(dir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeFile(target, tr); err != nil {
				return err
			}
		}
	}
}

func writeFile(target string, r io.Reader) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

// safeJoin joins dir and name, rejecting any tar entry that would escape
// the scratch directory via ".." components.
func safeJoin(dir, name string) (string, error) {
	cleanDir := filepath.Clean(dir)
	target := filepath.Join(cleanDir, name)
	if target != cleanDir && !strings.HasPrefix(target, cleanDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("tar entry escapes scratch directory: %q", name)
	}
	return target, nil
}

func readIndex(dir string) (*Index, error) {
	data, err := os.ReadFile(filepath.Join(dir, "index.json"))
	if err != nil {
		return nil, fmt.Errorf("reading index.json: %w", err)
	}
	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parsing index.json: %w", err)
	}
	return &index, nil
}

func evaluate(entrypointPath, namespace string, hasNamespace bool) (*Application, error) {
	thread := &starlark.Thread{Name: "configuration-program"}
	globalsDict, err := starlark.ExecFile(thread, entrypointPath, nil, globals())
	if err != nil {
		return nil, err
	}

	mainFn, ok := globalsDict["main"]
	if !ok {
		return nil, fmt.Errorf("configuration program does not define main")
	}

	ctxVal := &starlarkCtx{namespace: namespace, hasNamespace: hasNamespace}
	result, err := starlark.Call(thread, mainFn, starlark.Tuple{ctxVal}, nil)
	if err != nil {
		return nil, fmt.Errorf("calling main: %w", err)
	}

	app, ok := result.(*starlarkApplication)
	if !ok {
		return nil, fmt.Errorf("main must return an Application, got %s", result.Type())
	}
	return &app.v, nil
}
