package ckan

import (
	"context"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/tethys-dataset-services/internal/common/download"
	"github.com/tethys-dataset-services/pkg/dataset"
)

// DownloadResource saves the content behind a resource URL into destDir.
func (e *Engine) DownloadResource(ctx context.Context, resourceID, destDir string) *dataset.Response {
	r := e.GetResource(ctx, resourceID, nil)
	var res Resource
	if err := dataset.DecodeResult(r, &res); err != nil {
		return dataset.Fail(err)
	}
	if res.URL == "" {
		return dataset.Failf(dataset.KindInvalid, "download", "resource %s has no url", resourceID)
	}
	dest := filepath.Join(destDir, fileName(res))
	n, err := e.downloader.Download(ctx, res.URL, dest)
	if err != nil {
		return dataset.Fail(err)
	}
	return dataset.OK(map[string]interface{}{"path": dest, "size": n})
}

// DownloadDataset saves every resource of a dataset into destDir/<name>.
// The first failure stops the download.
func (e *Engine) DownloadDataset(ctx context.Context, datasetID, destDir string) *dataset.Response {
	r := e.GetDataset(ctx, datasetID, nil)
	var pkg Package
	if err := dataset.DecodeResult(r, &pkg); err != nil {
		return dataset.Fail(err)
	}
	dir := filepath.Join(destDir, download.SafeName(pkg.Name, download.SafeName(pkg.ID, "dataset")))
	paths := []interface{}{}
	for _, res := range pkg.Resources {
		if res.URL == "" {
			continue
		}
		dest := filepath.Join(dir, fileName(res))
		if _, err := e.downloader.Download(ctx, res.URL, dest); err != nil {
			return dataset.Fail(err)
		}
		paths = append(paths, dest)
	}
	return dataset.OK(paths)
}

// fileName picks a local name for a resource: the last URL path segment,
// falling back to the resource name or id.
func fileName(res Resource) string {
	if u, err := url.Parse(res.URL); err == nil {
		if base := download.SafeName(path.Base(u.Path), ""); base != "" {
			return base
		}
	}
	name := strings.NewReplacer("/", "_", `\`, "_").Replace(strings.TrimSpace(res.Name))
	return download.SafeName(name, download.SafeName(res.ID, "resource"))
}
