package compose

import (
	"fmt"
	"path"

	"gopkg.in/yaml.v3"

	"github.com/hullside/cutover/pkg/types"
)

// CanonicalFile is the compose file the next deployment cycle starts
// from; the deployer renames the winning color's file back to it.
func CanonicalFile(appDir string) string {
	return path.Join(appDir, "docker-compose.yml")
}

// ColorFile is the transient color-specific compose definition.
func ColorFile(appDir string, color types.Color) string {
	return path.Join(appDir, fmt.Sprintf("docker-compose.%s.yml", color))
}

// ContainerName builds the color-suffixed container name for a service.
func ContainerName(app, service string, color types.Color) string {
	return fmt.Sprintf("%s-%s-%s", app, service, color)
}

// LegacyName is the pre-color default container name for a service.
func LegacyName(app, service string) string {
	return fmt.Sprintf("%s-%s", app, service)
}

// SetFor describes the container set one color of an app consists of.
func SetFor(app, appDir string, services []string, color types.Color) types.ContainerSet {
	names := make([]string, 0, len(services))
	for _, svc := range services {
		names = append(names, ContainerName(app, svc, color))
	}
	return types.ContainerSet{
		App:         app,
		Color:       color,
		Names:       names,
		ComposeFile: ColorFile(appDir, color),
	}
}

// LegacySet describes the default-named containers of a host that
// predates color adoption.
func LegacySet(app, appDir string, services []string) types.ContainerSet {
	names := make([]string, 0, len(services))
	for _, svc := range services {
		names = append(names, LegacyName(app, svc))
	}
	return types.ContainerSet{
		App:         app,
		Names:       names,
		ComposeFile: CanonicalFile(appDir),
		Legacy:      true,
	}
}

// Render materializes the color-specific compose definition from the
// canonical file: every listed service gets a color-suffixed
// container_name, and host port bindings are stripped because the
// reverse proxy owns the public port, not the containers.
func Render(canonical []byte, app string, services []string, color types.Color) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(canonical, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse compose file: %w", err)
	}

	svcSection, ok := doc["services"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("compose file has no services section")
	}

	for _, name := range services {
		raw, ok := svcSection[name]
		if !ok {
			return nil, fmt.Errorf("service %q not found in compose file", name)
		}
		svc, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("service %q is not a mapping", name)
		}

		svc["container_name"] = ContainerName(app, name, color)
		delete(svc, "ports")
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to render compose file: %w", err)
	}
	return out, nil
}

// SetImage rewrites the image reference of the named service, returning
// the updated document. Used when deploying a new version tag.
func SetImage(composeYAML []byte, service, image string) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(composeYAML, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse compose file: %w", err)
	}

	svcSection, ok := doc["services"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("compose file has no services section")
	}
	raw, ok := svcSection[service]
	if !ok {
		return nil, fmt.Errorf("service %q not found in compose file", service)
	}
	svc, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("service %q is not a mapping", service)
	}
	svc["image"] = image

	return yaml.Marshal(doc)
}
