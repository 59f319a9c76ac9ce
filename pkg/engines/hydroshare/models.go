package hydroshare

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/tethys-dataset-services/pkg/dataset"
)

// DefaultResourceType is used when CreateDataset is given no resource_type.
const DefaultResourceType = "CompositeResource"

// ResourceTypes are the resource types HydroShare accepts on create.
var ResourceTypes = map[string]bool{
	"CompositeResource":            true,
	"CollectionResource":           true,
	"ModelProgramResource":         true,
	"ModelInstanceResource":        true,
	"ToolResource":                 true,
	"GenericResource":              true,
	"RasterResource":               true,
	"NetcdfResource":               true,
	"TimeSeriesResource":           true,
	"GeographicFeatureResource":    true,
	"RefTimeSeriesResource":        true,
	"ScriptResource":               true,
	"SWATModelInstanceResource":    true,
	"MODFLOWModelInstanceResource": true,
}

func resourceTypeNames() string {
	names := make([]string, 0, len(ResourceTypes))
	for n := range ResourceTypes {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// validateID checks that id is a HydroShare resource id: a UUID written as
// 32 hex digits without dashes.
func validateID(op, id string) error {
	if len(id) != 32 {
		return dataset.Errorf(dataset.KindInvalid, op, "%q is not a HydroShare resource id", id)
	}
	if _, err := uuid.Parse(id); err != nil {
		return dataset.Errorf(dataset.KindInvalid, op, "%q is not a HydroShare resource id", id)
	}
	return nil
}

// NewResourceID returns a random id in HydroShare's format.
func NewResourceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// splitFileID splits "resourceid/path/to/file" into the resource id and
// the file path inside the resource.
func splitFileID(op, id string) (string, string, error) {
	resID, path, ok := strings.Cut(strings.Trim(id, "/"), "/")
	if !ok || path == "" {
		return "", "", dataset.Errorf(dataset.KindInvalid, op, "file id %q must be <resource id>/<path>", id)
	}
	if err := validateID(op, resID); err != nil {
		return "", "", err
	}
	return resID, path, nil
}

// SystemMetadata is the sysmeta document of a resource.
type SystemMetadata struct {
	ResourceID     string `mapstructure:"resource_id"`
	ResourceTitle  string `mapstructure:"resource_title"`
	ResourceType   string `mapstructure:"resource_type"`
	Creator        string `mapstructure:"creator"`
	Public         bool   `mapstructure:"public"`
	Discoverable   bool   `mapstructure:"discoverable"`
	Shareable      bool   `mapstructure:"shareable"`
	Immutable      bool   `mapstructure:"immutable"`
	Published      bool   `mapstructure:"published"`
	DateCreated    string `mapstructure:"date_created"`
	DateModified   string `mapstructure:"date_last_updated"`
	BagURL         string `mapstructure:"bag_url"`
	ScienceMetaURL string `mapstructure:"science_metadata_url"`
	ResourceURL    string `mapstructure:"resource_url"`
}

// File is one entry of a resource file listing.
type File struct {
	FileName    string `mapstructure:"file_name"`
	URL         string `mapstructure:"url"`
	Size        int64  `mapstructure:"size"`
	ContentType string `mapstructure:"content_type"`
	LogicalType string `mapstructure:"logical_type"`
	Checksum    string `mapstructure:"checksum"`
}
