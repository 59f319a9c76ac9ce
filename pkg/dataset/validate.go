package dataset

import (
	"fmt"
	"sort"
	"strings"
)

const (
	EngineCKAN       = "ckan"
	EngineHydroShare = "hydroshare"
	EngineGeoServer  = "geoserver"
)

// ValidEngines are the dataset engines that can be configured.
var ValidEngines = map[string]bool{
	EngineCKAN:       true,
	EngineHydroShare: true,
}

// ValidSpatialEngines are the spatial dataset engines that can be configured.
var ValidSpatialEngines = map[string]bool{
	EngineGeoServer: true,
}

// SupportedEngines lists every accepted engine name, sorted.
func SupportedEngines() []string {
	names := make([]string, 0, len(ValidEngines)+len(ValidSpatialEngines))
	for name := range ValidEngines {
		names = append(names, name)
	}
	for name := range ValidSpatialEngines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateEngine checks that name is a supported engine. The comparison is
// case-insensitive and ignores surrounding space.
func ValidateEngine(name string) error {
	n := strings.ToLower(strings.TrimSpace(name))
	if ValidEngines[n] || ValidSpatialEngines[n] {
		return nil
	}
	return fmt.Errorf("%w %q: expected one of %s", ErrUnsupportedEngine, name, strings.Join(SupportedEngines(), ", "))
}

// ValidateConfig checks the "engine" key of a service configuration mapping.
// It performs no network access.
func ValidateConfig(cfg map[string]interface{}) error {
	raw, ok := cfg["engine"]
	if !ok {
		return NewError(KindInvalid, "validate", `missing required key "engine"`)
	}
	name, ok := raw.(string)
	if !ok {
		return Errorf(KindInvalid, "validate", `"engine" must be a string, got %T`, raw)
	}
	if err := ValidateEngine(name); err != nil {
		return err
	}
	if ep, _ := cfg["endpoint"].(string); strings.TrimSpace(ep) == "" {
		return NewError(KindInvalid, "validate", `missing required key "endpoint"`)
	}
	return nil
}
