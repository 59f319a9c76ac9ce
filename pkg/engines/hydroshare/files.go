package hydroshare

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/tethys-dataset-services/internal/common/download"
	"github.com/tethys-dataset-services/internal/common/transport"
	"github.com/tethys-dataset-services/pkg/dataset"
)

// File ids are "<resource id>/<path inside the resource>".

func (e *Engine) files(ctx context.Context, op, resourceID string) ([]map[string]interface{}, error) {
	return e.listAll(ctx, op, e.apiURL("resource", resourceID, "files"), nil)
}

// ListResources lists the files of a resource.
func (e *Engine) ListResources(ctx context.Context, datasetID string, opts dataset.Options) *dataset.Response {
	const op = "list_files"
	if _, err := opts.Decode(op, &struct{}{}, true); err != nil {
		return dataset.Fail(err)
	}
	if err := validateID(op, datasetID); err != nil {
		return dataset.Fail(err)
	}
	files, err := e.files(ctx, op, datasetID)
	if err != nil {
		return dataset.Fail(err)
	}
	out := make([]interface{}, len(files))
	for i, f := range files {
		out[i] = f
	}
	return dataset.OK(out)
}

// matchesPath reports whether a listing entry is the file at p. Newer
// servers report the path in file_name, older ones only in the url.
func matchesPath(f map[string]interface{}, p string) bool {
	if name, _ := f["file_name"].(string); name == p {
		return true
	}
	u, _ := f["url"].(string)
	return strings.HasSuffix(u, "/data/contents/"+p)
}

// GetResource returns the listing entry of one file.
func (e *Engine) GetResource(ctx context.Context, resourceID string, opts dataset.Options) *dataset.Response {
	const op = "get_file"
	resID, p, err := splitFileID(op, resourceID)
	if err != nil {
		return dataset.Fail(err)
	}
	files, err := e.files(ctx, op, resID)
	if err != nil {
		return dataset.Fail(err)
	}
	for _, f := range files {
		if matchesPath(f, p) {
			f["resource_id"] = resID
			return dataset.OK(f)
		}
	}
	return dataset.Failf(dataset.KindNotFound, op, "resource %s has no file %q", resID, p)
}

// SearchResources filters file listings by query terms. The "dataset_id"
// option limits the search to one resource; otherwise every listed
// resource is read.
func (e *Engine) SearchResources(ctx context.Context, query dataset.Query, opts dataset.Options) *dataset.Response {
	const op = "search_files"
	var o struct {
		DatasetID string `mapstructure:"dataset_id"`
	}
	if _, err := opts.Decode(op, &o, true); err != nil {
		return dataset.Fail(err)
	}
	ids := []string{o.DatasetID}
	if o.DatasetID == "" {
		records, err := e.listAll(ctx, op, e.apiURL("resource"), nil)
		if err != nil {
			return dataset.Fail(err)
		}
		ids = ids[:0]
		for _, r := range records {
			if id, ok := r["resource_id"].(string); ok {
				ids = append(ids, id)
			}
		}
	} else if err := validateID(op, o.DatasetID); err != nil {
		return dataset.Fail(err)
	}

	out := []interface{}{}
	for _, id := range ids {
		files, err := e.files(ctx, op, id)
		if err != nil {
			return dataset.Fail(err)
		}
		for _, f := range files {
			f["resource_id"] = id
			if query.Matches(f) {
				out = append(out, f)
			}
		}
	}
	return dataset.OK(out)
}

// CreateResource adds a file to a resource. The resource is checked first
// so a bad id fails before the upload. A URL source is downloaded and then
// uploaded, since HydroShare stores content. The "folder" option places
// the file in a folder of the resource.
func (e *Engine) CreateResource(ctx context.Context, datasetID string, src dataset.Source, opts dataset.Options) *dataset.Response {
	const op = "create_file"
	var o struct {
		Folder string `mapstructure:"folder"`
	}
	if _, err := opts.Decode(op, &o, true); err != nil {
		return dataset.Fail(err)
	}
	if err := src.Check(op, true); err != nil {
		return dataset.Fail(err)
	}
	if err := validateID(op, datasetID); err != nil {
		return dataset.Fail(err)
	}
	var meta map[string]interface{}
	if err := e.getJSON(ctx, op, e.apiURL("resource", datasetID, "sysmeta"), nil, &meta); err != nil {
		return dataset.Fail(err)
	}

	c, err := e.open(ctx, op, src)
	if err != nil {
		return dataset.Fail(err)
	}
	defer c.Close()
	name, err := e.upload(ctx, op, datasetID, strings.Trim(o.Folder, "/"), c.name, c)
	if err != nil {
		return dataset.Fail(err)
	}
	return e.GetResource(ctx, datasetID+"/"+name, nil)
}

// content is file content ready for upload.
type content struct {
	name    string
	r       io.ReadCloser
	cleanup func()
}

func (c *content) Close() {
	c.r.Close()
	if c.cleanup != nil {
		c.cleanup()
	}
}

// open resolves src to readable content. A URL source is downloaded into a
// temporary directory first, since HydroShare stores content.
func (e *Engine) open(ctx context.Context, op string, src dataset.Source) (*content, error) {
	var cleanup func()
	if src.URL != "" {
		local, done, err := e.fetch(ctx, src.URL)
		if err != nil {
			return nil, err
		}
		cleanup = done
		src = dataset.Source{Path: local}
	}
	r, err := src.Open()
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, dataset.Errorf(dataset.KindInvalid, op, "%v", err)
	}
	return &content{name: src.Name(), r: r, cleanup: cleanup}, nil
}

// upload posts c into folder of a resource as fileName and returns the
// path of the new file.
func (e *Engine) upload(ctx context.Context, op, resID, folder, fileName string, c *content) (string, error) {
	req := e.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetFileReader("file", fileName, c.r)
	if folder != "" {
		req.SetMultipartFormData(map[string]string{"folder": folder})
	}
	resp, err := req.Post(e.apiURL("resource", resID, "files"))
	if err := transport.Check(op, resp, err); err != nil {
		return "", err
	}
	p := fileName
	if folder != "" {
		p = folder + "/" + fileName
	}
	e.logger.Info("File uploaded", "resource_id", resID, "path", p)
	return p, nil
}

// fetch downloads a URL into a temporary directory. cleanup removes it.
func (e *Engine) fetch(ctx context.Context, rawURL string) (string, func(), error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, dataset.Errorf(dataset.KindInvalid, "fetch", "invalid url %q", rawURL)
	}
	name := download.SafeName(path.Base(u.Path), "download")
	dir, err := os.MkdirTemp("", "hydroshare-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.RemoveAll(dir) }
	local := filepath.Join(dir, name)
	if _, err := e.downloader.Download(ctx, rawURL, local); err != nil {
		cleanup()
		return "", nil, err
	}
	return local, cleanup, nil
}

// UpdateResource replaces a file's content. HydroShare has no replace call,
// so the file is deleted and the new content uploaded under the same path.
// The new content is resolved and the old one saved before the delete; a
// failed upload puts the old content back.
func (e *Engine) UpdateResource(ctx context.Context, resourceID string, src dataset.Source, opts dataset.Options) *dataset.Response {
	const op = "update_file"
	if _, err := opts.Decode(op, &struct{}{}, true); err != nil {
		return dataset.Fail(err)
	}
	if err := src.Check(op, true); err != nil {
		return dataset.Fail(err)
	}
	resID, p, err := splitFileID(op, resourceID)
	if err != nil {
		return dataset.Fail(err)
	}
	c, err := e.open(ctx, op, src)
	if err != nil {
		return dataset.Fail(err)
	}
	defer c.Close()
	old, err := e.backup(ctx, op, resourceID)
	if err != nil {
		return dataset.Fail(err)
	}
	defer old.Close()

	if err := e.deleteFile(ctx, op, resID, p); err != nil {
		return dataset.Fail(err)
	}
	folder := path.Dir(p)
	if folder == "." {
		folder = ""
	}
	if _, err := e.upload(ctx, op, resID, folder, path.Base(p), c); err != nil {
		if _, rerr := e.upload(ctx, op, resID, folder, path.Base(p), old); rerr != nil {
			e.logger.Error("Failed to restore file", "resource_id", resID, "path", p, "error", rerr)
		} else {
			e.logger.Warn("Upload failed, previous content restored", "resource_id", resID, "path", p)
		}
		return dataset.Fail(err)
	}
	return e.GetResource(ctx, resourceID, nil)
}

// backup downloads the current content of a file.
func (e *Engine) backup(ctx context.Context, op, fileID string) (*content, error) {
	var f File
	if err := dataset.DecodeResult(e.GetResource(ctx, fileID, nil), &f); err != nil {
		return nil, err
	}
	if f.URL == "" {
		return nil, dataset.Errorf(dataset.KindResponseShape, op, "file %s has no url", fileID)
	}
	return e.open(ctx, op, dataset.Source{URL: f.URL})
}

// DeleteResource deletes a file from a resource.
func (e *Engine) DeleteResource(ctx context.Context, resourceID string, opts dataset.Options) *dataset.Response {
	const op = "delete_file"
	if _, err := opts.Decode(op, &struct{}{}, true); err != nil {
		return dataset.Fail(err)
	}
	resID, p, err := splitFileID(op, resourceID)
	if err != nil {
		return dataset.Fail(err)
	}
	if err := e.deleteFile(ctx, op, resID, p); err != nil {
		return dataset.Fail(err)
	}
	return dataset.OK(nil)
}

func (e *Engine) deleteFile(ctx context.Context, op, resID, p string) error {
	parts := append([]string{"resource", resID, "files"}, strings.Split(p, "/")...)
	resp, err := e.http.R().SetContext(ctx).Delete(e.apiURL(parts...))
	if err := transport.Check(op, resp, err); err != nil {
		return err
	}
	e.logger.Info("File deleted", "resource_id", resID, "path", p)
	return nil
}
