// Package servicespec resolves application names to their declarative service specification
// (a compose file under the stacks directory) and to pullable image references.
package servicespec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/aymerick/raymond"
	"github.com/ghodss/yaml"
)

const (
	DefaultTag           = "latest"
	DefaultImageTemplate = "{{image}}:{{tag}}"
)

var DefaultFileNames = []string{"docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml"}

var (
	ErrConfigNotFound = errors.New("service configuration not found")
	ErrInvalidName    = errors.New("invalid application name")
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*[a-z0-9]$|^[a-z0-9]$`)

// Spec is the resolved service specification for one application.
type Spec struct {
	App string
	// Compose project: the file's top-level name, or the directory name.
	Project       string
	Dir           string
	File          string
	Service       string
	Image         string
	ContainerName string
}

type composeService struct {
	Image         string `json:"image"`
	ContainerName string `json:"container_name"`
}

type composeFile struct {
	Name     string                    `json:"name"`
	Services map[string]composeService `json:"services"`
}

// Lookup finds specifications in <Root>/<app>/<one of FileNames>.
type Lookup struct {
	Root      string
	FileNames []string
}

func ValidName(app string) bool {
	return namePattern.MatchString(app)
}

func (l *Lookup) Find(app string) (*Spec, error) {
	if !ValidName(app) {
		return nil, fmt.Errorf("%w: %q must match %s", ErrInvalidName, app, namePattern)
	}

	fileNames := l.FileNames
	if len(fileNames) == 0 {
		fileNames = DefaultFileNames
	}

	dir := filepath.Join(l.Root, app)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: no directory for %q in %s", ErrConfigNotFound, app, l.Root)
	}

	for _, name := range fileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("%s: read file: %w", path, err)
		}
		return parse(app, dir, path, data)
	}

	return nil, fmt.Errorf("%w: none of %s present in %s", ErrConfigNotFound, strings.Join(fileNames, ", "), dir)
}

func parse(app, dir, path string, data []byte) (*Spec, error) {
	compose := &composeFile{}
	err := yaml.Unmarshal(data, compose)
	if err != nil {
		errMsg := strings.ReplaceAll(err.Error(), "\n", ": ")
		return nil, fmt.Errorf("%s: %s", path, errMsg)
	}

	name, svc, ok := pickService(app, compose.Services)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not define service %q", ErrConfigNotFound, path, app)
	}

	project := compose.Name
	if len(project) == 0 {
		project = filepath.Base(dir)
	}

	return &Spec{
		App:           app,
		Project:       project,
		Dir:           dir,
		File:          path,
		Service:       name,
		Image:         svc.Image,
		ContainerName: svc.ContainerName,
	}, nil
}

// A compose file either names the service after the application,
// or declares exactly one service with an image.
func pickService(app string, services map[string]composeService) (string, composeService, bool) {
	if svc, ok := services[app]; ok {
		return app, svc, true
	}

	withImage := make([]string, 0, len(services))
	for name, svc := range services {
		if len(svc.Image) > 0 {
			withImage = append(withImage, name)
		}
	}
	if len(withImage) != 1 {
		return "", composeService{}, false
	}
	sort.Strings(withImage)
	return withImage[0], services[withImage[0]], true
}

// ImageResolver renders the pullable image reference for an application version.
type ImageResolver struct {
	// Handlebars template with the variables app, image and tag.
	Template string
}

func (r ImageResolver) Resolve(spec *Spec, tag string) (string, error) {
	if len(tag) == 0 {
		tag = DefaultTag
	}
	tpl := r.Template
	if len(tpl) == 0 {
		tpl = DefaultImageTemplate
	}

	image := Repository(spec.Image)
	if len(image) == 0 && tpl == DefaultImageTemplate {
		return "", fmt.Errorf("service %q in %s has no image", spec.Service, spec.File)
	}

	ref, err := raymond.Render(tpl, map[string]string{
		"app":   spec.App,
		"image": image,
		"tag":   tag,
	})
	if err != nil {
		return "", fmt.Errorf("render image template: %w", err)
	}
	return strings.TrimSpace(ref), nil
}

// Repository strips the tag, digest and any unresolved variable from a compose image reference,
// e.g. "ghcr.io/acme/api:${TAG:-latest}" becomes "ghcr.io/acme/api".
func Repository(image string) string {
	if i := strings.Index(image, "@"); i >= 0 {
		image = image[:i]
	}
	if i := strings.Index(image, "${"); i >= 0 {
		image = image[:i]
	}
	slash := strings.LastIndex(image, "/")
	if colon := strings.LastIndex(image, ":"); colon > slash {
		image = image[:colon]
	}
	return strings.TrimSuffix(image, ":")
}
