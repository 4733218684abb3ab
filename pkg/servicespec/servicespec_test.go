package servicespec_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nais/hostops/pkg/servicespec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiCompose = `
services:
  api:
    image: ghcr.io/acme/api:${TAG:-latest}
    container_name: api
  worker:
    image: ghcr.io/acme/worker:1.0
`

const singleCompose = `
name: shop
services:
  web:
    image: nginx:1.27
  cache:
    build: .
`

func writeSpec(t *testing.T, root, app, file, content string) {
	t.Helper()
	dir := filepath.Join(root, app)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644))
}

func TestValidName(t *testing.T) {
	for _, name := range []string{"a", "api", "my-app", "app2", "0"} {
		assert.True(t, servicespec.ValidName(name), name)
	}
	for _, name := range []string{"", "-api", "api-", "API", "my_app", "a.b", "../etc"} {
		assert.False(t, servicespec.ValidName(name), name)
	}
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	writeSpec(t, root, "api", "docker-compose.yml", apiCompose)
	writeSpec(t, root, "shop", "compose.yaml", singleCompose)

	lookup := &servicespec.Lookup{Root: root}

	spec, err := lookup.Find("api")
	require.NoError(t, err)
	assert.Equal(t, "api", spec.Service)
	assert.Equal(t, "ghcr.io/acme/api:${TAG:-latest}", spec.Image)
	assert.Equal(t, "api", spec.ContainerName)
	assert.Equal(t, filepath.Join(root, "api", "docker-compose.yml"), spec.File)

	spec, err = lookup.Find("shop")
	require.NoError(t, err)
	assert.Equal(t, "web", spec.Service)
}

func TestFindConfigNotFound(t *testing.T) {
	root := t.TempDir()
	writeSpec(t, root, "empty", "README.md", "nothing to see")
	writeSpec(t, root, "multi", "docker-compose.yml", `
services:
  a:
    image: a:1
  b:
    image: b:1
`)

	lookup := &servicespec.Lookup{Root: root}

	for _, app := range []string{"missing", "empty", "multi"} {
		_, err := lookup.Find(app)
		assert.ErrorIs(t, err, servicespec.ErrConfigNotFound, app)
	}

	_, err := lookup.Find("Not_Valid")
	assert.ErrorIs(t, err, servicespec.ErrInvalidName)
}

func TestRepository(t *testing.T) {
	assert.Equal(t, "ghcr.io/acme/api", servicespec.Repository("ghcr.io/acme/api:${TAG:-latest}"))
	assert.Equal(t, "ghcr.io/acme/api", servicespec.Repository("ghcr.io/acme/api:v1"))
	assert.Equal(t, "localhost:5000/api", servicespec.Repository("localhost:5000/api"))
	assert.Equal(t, "redis", servicespec.Repository("redis:7@sha256:abc"))
}

func TestImageResolver(t *testing.T) {
	spec := &servicespec.Spec{App: "api", Service: "api", Image: "ghcr.io/acme/api:${TAG:-latest}"}

	ref, err := servicespec.ImageResolver{}.Resolve(spec, "v2")
	require.NoError(t, err)
	assert.Equal(t, "ghcr.io/acme/api:v2", ref)

	ref, err = servicespec.ImageResolver{}.Resolve(spec, "")
	require.NoError(t, err)
	assert.Equal(t, "ghcr.io/acme/api:latest", ref)

	ref, err = servicespec.ImageResolver{Template: "registry.example.com/tenants/{{app}}:{{tag}}"}.Resolve(spec, "v3")
	require.NoError(t, err)
	assert.Equal(t, "registry.example.com/tenants/api:v3", ref)

	_, err = servicespec.ImageResolver{}.Resolve(&servicespec.Spec{App: "x", Service: "x"}, "v1")
	assert.Error(t, err)
}
