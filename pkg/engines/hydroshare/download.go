package hydroshare

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/tethys-dataset-services/internal/common/download"
	"github.com/tethys-dataset-services/pkg/dataset"
)

// DownloadDataset saves the BagIt archive of a resource as
// destDir/<id>.zip.
func (e *Engine) DownloadDataset(ctx context.Context, datasetID, destDir string) *dataset.Response {
	var meta SystemMetadata
	if err := dataset.DecodeResult(e.GetDataset(ctx, datasetID, nil), &meta); err != nil {
		return dataset.Fail(err)
	}
	bag := meta.BagURL
	if bag == "" {
		bag = e.apiURL("resource", datasetID)
	}
	dest := filepath.Join(destDir, datasetID+".zip")
	n, err := e.downloader.Download(ctx, bag, dest)
	if err != nil {
		return dataset.Fail(err)
	}
	return dataset.OK(map[string]interface{}{"path": dest, "size": n})
}

// DownloadResource saves one file of a resource into destDir.
func (e *Engine) DownloadResource(ctx context.Context, resourceID, destDir string) *dataset.Response {
	var f File
	if err := dataset.DecodeResult(e.GetResource(ctx, resourceID, nil), &f); err != nil {
		return dataset.Fail(err)
	}
	if f.URL == "" {
		return dataset.Failf(dataset.KindResponseShape, "download", "file %s has no url", resourceID)
	}
	dest := filepath.Join(destDir, download.SafeName(path.Base(f.FileName), strings.ReplaceAll(resourceID, "/", "_")))
	n, err := e.downloader.Download(ctx, f.URL, dest)
	if err != nil {
		return dataset.Fail(err)
	}
	return dataset.OK(map[string]interface{}{"path": dest, "size": n})
}
