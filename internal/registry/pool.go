// Package registry implements the per-registry authenticated client cache:
// parsing `[scheme://]registry/repository[:tag|@digest]` references,
// resolving Docker credentials, and pinning tags to content digests.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// ErrIdentityTokenUnsupported is returned when a resolved Docker credential
// carries an identity token rather than a username/password pair.
var ErrIdentityTokenUnsupported = errors.New("identity-token credentials are not supported")

// Pool caches one set of authenticated remote.Options per registry host for
// the life of the process.
type Pool struct {
	mu      sync.Mutex
	options map[string][]remote.Option
	log     logr.Logger
}

// NewPool returns an empty Pool.
func NewPool(log logr.Logger) *Pool {
	return &Pool{options: map[string][]remote.Option{}, log: log}
}

// Reference is an image reference with its TLS scheme already resolved.
type Reference struct {
	Ref      name.Reference
	Registry string
}

// ParseReference splits the optional `http://`/`https://` scheme prefix from
// image (http disables TLS verification) and parses the remainder as an
// image reference.
func (p *Pool) ParseReference(image string) (Reference, error) {
	insecure := false
	ref := image
	switch {
	case strings.HasPrefix(image, "http://"):
		insecure = true
		ref = strings.TrimPrefix(image, "http://")
	case strings.HasPrefix(image, "https://"):
		ref = strings.TrimPrefix(image, "https://")
	}

	var opts []name.Option
	if insecure {
		opts = append(opts, name.Insecure)
	}
	parsed, err := name.ParseReference(ref, opts...)
	if err != nil {
		return Reference{}, fmt.Errorf("parsing image reference %q: %w", image, err)
	}
	return Reference{Ref: parsed, Registry: parsed.Context().RegistryStr()}, nil
}

// optionsFor returns the cached remote options for ref's registry, resolving
// and caching credentials on first use.
func (p *Pool) optionsFor(ctx context.Context, ref Reference) ([]remote.Option, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if opts, ok := p.options[ref.Registry]; ok {
		return opts, nil
	}

	authenticator, err := resolveAuthenticator(ref.Ref.Context())
	if err != nil {
		return nil, err
	}

	opts := []remote.Option{remote.WithContext(ctx), remote.WithAuth(authenticator)}
	p.options[ref.Registry] = opts
	p.log.V(1).Info("cached registry client", "registry", ref.Registry)
	return opts, nil
}

// resolveAuthenticator resolves credentials for repo via the platform's
// Docker credential helper (ggcr's default keychain). A not-configured
// credential is treated as anonymous; an identity-token credential is a
// hard error.
func resolveAuthenticator(repo name.Repository) (authn.Authenticator, error) {
	authenticator, err := authn.DefaultKeychain.Resolve(repo)
	if err != nil {
		return nil, fmt.Errorf("resolving credentials for %s: %w", repo.RegistryStr(), err)
	}
	cfg, err := authenticator.Authorization()
	if err != nil {
		return nil, fmt.Errorf("reading credential config for %s: %w", repo.RegistryStr(), err)
	}
	return chooseAuthenticator(authenticator, cfg, repo.RegistryStr())
}

// chooseAuthenticator is the pure decision extracted from resolveAuthenticator
// so the UsernamePassword/anonymous/identity-token branches are unit
// testable without a real keychain.
func chooseAuthenticator(original authn.Authenticator, cfg *authn.AuthConfig, registry string) (authn.Authenticator, error) {
	if cfg.IdentityToken != "" {
		return nil, fmt.Errorf("%s: %w", registry, ErrIdentityTokenUnsupported)
	}
	if cfg.Username == "" && cfg.Password == "" && cfg.Auth == "" {
		return authn.Anonymous, nil
	}
	return original, nil
}

// ResolveTagToDigest fetches image's manifest and returns a fully-qualified
// reference pinned to its first layer's digest. Configuration images carry
// a single content layer, so the layer digest — not the manifest digest —
// is the stable, content-addressed version identifier.
func (p *Pool) ResolveTagToDigest(ctx context.Context, image string) (string, error) {
	ref, err := p.ParseReference(image)
	if err != nil {
		return "", err
	}
	opts, err := p.optionsFor(ctx, ref)
	if err != nil {
		return "", err
	}

	desc, err := remote.Get(ref.Ref, opts...)
	if err != nil {
		return "", fmt.Errorf("fetching manifest for %s: %w", image, err)
	}
	img, err := desc.Image()
	if err != nil {
		return "", fmt.Errorf("reading image for %s: %w", image, err)
	}
	layers, err := img.Layers()
	if err != nil {
		return "", fmt.Errorf("reading layers for %s: %w", image, err)
	}
	if len(layers) == 0 {
		return "", fmt.Errorf("image %s has no layers", image)
	}
	digest, err := layers[0].Digest()
	if err != nil {
		return "", fmt.Errorf("reading layer digest for %s: %w", image, err)
	}
	return fmt.Sprintf("%s@%s", ref.Ref.Context().Name(), digest.String()), nil
}

// FetchImage resolves image and returns its v1.Image descriptor, ready for
// layer enumeration by the configuration-image loader.
func (p *Pool) FetchImage(ctx context.Context, image string) (v1.Image, error) {
	ref, err := p.ParseReference(image)
	if err != nil {
		return nil, err
	}
	opts, err := p.optionsFor(ctx, ref)
	if err != nil {
		return nil, err
	}
	desc, err := remote.Get(ref.Ref, opts...)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest for %s: %w", image, err)
	}
	img, err := desc.Image()
	if err != nil {
		return nil, fmt.Errorf("reading image for %s: %w", image, err)
	}
	return img, nil
}
