package ckan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tethys-dataset-services/pkg/dataset"
)

// fakeCKAN is an in-memory Action API.
type fakeCKAN struct {
	mu         sync.Mutex
	version    string
	packages   map[string]map[string]interface{}
	resources  map[string]map[string]interface{}
	calls      []string
	failUpload bool
	nextID     int
	lastBody   map[string]interface{}
	apiKeys    []string
	files      map[string]string
	baseURL    string
}

func newFakeCKAN() *fakeCKAN {
	return &fakeCKAN{
		version:   "2.10.4",
		packages:  map[string]map[string]interface{}{},
		resources: map[string]map[string]interface{}{},
		files:     map[string]string{},
	}
}

func (f *fakeCKAN) reply(w http.ResponseWriter, status int, v map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeCKAN) ok(w http.ResponseWriter, result interface{}) {
	f.reply(w, http.StatusOK, map[string]interface{}{"help": "x", "success": true, "result": result})
}

func (f *fakeCKAN) fail(w http.ResponseWriter, status int, errObj map[string]interface{}) {
	f.reply(w, status, map[string]interface{}{"help": "x", "success": false, "error": errObj})
}

func (f *fakeCKAN) notFound(w http.ResponseWriter) {
	f.fail(w, http.StatusNotFound, map[string]interface{}{"__type": "Not Found Error", "message": "Not found"})
}

func (f *fakeCKAN) id() string {
	f.nextID++
	return fmt.Sprintf("id-%d", f.nextID)
}

func (f *fakeCKAN) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if strings.HasPrefix(r.URL.Path, "/files/") {
		_, _ = io.WriteString(w, f.files[strings.TrimPrefix(r.URL.Path, "/files/")])
		return
	}

	action := strings.TrimPrefix(r.URL.Path, "/api/3/action/")
	f.calls = append(f.calls, action)
	f.apiKeys = append(f.apiKeys, r.Header.Get("X-CKAN-API-Key"))

	b := map[string]interface{}{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for k, v := range r.MultipartForm.Value {
			b[k] = v[0]
		}
		if fh, ok := r.MultipartForm.File["upload"]; ok {
			b["upload"] = fh[0].Filename
		}
	} else {
		_ = json.NewDecoder(r.Body).Decode(&b)
	}
	f.lastBody = b
	id, _ := b["id"].(string)

	switch action {
	case "status_show":
		f.ok(w, map[string]interface{}{"ckan_version": f.version, "site_title": "test"})
	case "package_list":
		names := []string{}
		for name := range f.packages {
			names = append(names, name)
		}
		f.ok(w, names)
	case "current_package_list_with_resources":
		list := []interface{}{}
		for _, p := range f.packages {
			list = append(list, p)
		}
		f.ok(w, list)
	case "package_search":
		f.ok(w, map[string]interface{}{"count": 0, "results": []interface{}{}})
	case "package_show":
		p, ok := f.packages[id]
		if !ok {
			f.notFound(w)
			return
		}
		f.ok(w, p)
	case "package_create":
		name, _ := b["name"].(string)
		if _, exists := f.packages[name]; exists {
			f.fail(w, http.StatusConflict, map[string]interface{}{
				"__type": "Validation Error", "name": []string{"That URL is already in use."}})
			return
		}
		b["id"] = f.id()
		if _, ok := b["resources"]; !ok {
			b["resources"] = []interface{}{}
		}
		b["metadata_modified"] = "2024-03-01T10:11:12.123456"
		f.packages[name] = b
		f.ok(w, b)
	case "package_update":
		if _, ok := f.packages[id]; !ok {
			f.notFound(w)
			return
		}
		f.packages[id] = b
		f.ok(w, b)
	case "package_delete":
		if _, ok := f.packages[id]; !ok {
			f.notFound(w)
			return
		}
		delete(f.packages, id)
		f.ok(w, nil)
	case "resource_create":
		pkgID, _ := b["package_id"].(string)
		p, ok := f.packages[pkgID]
		if !ok {
			f.notFound(w)
			return
		}
		b["id"] = f.id()
		f.resources[b["id"].(string)] = b
		p["resources"] = append(p["resources"].([]interface{}), b)
		f.ok(w, b)
	case "resource_patch", "resource_update":
		if f.failUpload && b["upload"] != nil {
			f.fail(w, http.StatusInternalServerError, map[string]interface{}{"message": "storage unavailable"})
			return
		}
		res, ok := f.resources[id]
		if !ok {
			f.notFound(w)
			return
		}
		if action == "resource_update" {
			res = map[string]interface{}{"id": id}
		}
		for k, v := range b {
			res[k] = v
		}
		if up, ok := b["upload"].(string); ok {
			res["url"] = f.baseURL + "/files/" + up
			res["url_type"] = "upload"
		}
		f.resources[id] = res
		f.ok(w, res)
	case "resource_show":
		res, ok := f.resources[id]
		if !ok {
			f.notFound(w)
			return
		}
		f.ok(w, res)
	case "resource_delete":
		if _, ok := f.resources[id]; !ok {
			f.notFound(w)
			return
		}
		delete(f.resources, id)
		f.ok(w, nil)
	case "resource_search":
		f.ok(w, map[string]interface{}{"count": 0, "results": []interface{}{}})
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
	}
}

func setup(t *testing.T) (*Engine, *fakeCKAN) {
	t.Helper()
	fake := newFakeCKAN()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	fake.baseURL = srv.URL

	e, err := New(Config{Endpoint: srv.URL + "/api/3/action/", APIKey: "key-123"})
	require.NoError(t, err)
	return e, fake
}

func TestNewRejectsBadEndpoint(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{Endpoint: "ftp://example.org/api"})
	assert.Error(t, err)
}

func TestListDatasets(t *testing.T) {
	e, fake := setup(t)
	ctx := context.Background()

	r := e.ListDatasets(ctx, nil)
	require.True(t, r.Success, r.Error)
	names, ok := r.Strings()
	require.True(t, ok)
	assert.Empty(t, names)

	require.True(t, e.CreateDataset(ctx, "lake-levels", nil).Success)
	names, _ = e.ListDatasets(ctx, nil).Strings()
	assert.Equal(t, []string{"lake-levels"}, names)

	r = e.ListDatasets(ctx, dataset.Options{"with_resources": true})
	require.True(t, r.Success)
	assert.Equal(t, "current_package_list_with_resources", fake.calls[len(fake.calls)-1])
	assert.Equal(t, "key-123", fake.apiKeys[0])
}

func TestGetMissingDataset(t *testing.T) {
	e, _ := setup(t)
	r := e.GetDataset(context.Background(), "nope", nil)
	assert.False(t, r.Success)
	assert.Nil(t, r.Result)
	assert.Contains(t, r.Error, "Not found")
	assert.Equal(t, dataset.KindNotFound, r.Kind)
}

func TestCreateThenGet(t *testing.T) {
	e, fake := setup(t)
	ctx := context.Background()

	opts := dataset.Options{"title": "Lake Levels", "tags": []string{"water", "lakes"}}
	r := e.CreateDataset(ctx, "lake-levels", opts)
	require.True(t, r.Success, r.Error)
	tags := fake.lastBody["tags"].([]interface{})
	assert.Equal(t, map[string]interface{}{"name": "water"}, tags[0])
	assert.IsType(t, []string{}, opts["tags"], "caller options must not change")

	got := e.GetDataset(ctx, "lake-levels", nil)
	require.True(t, got.Success)
	var pkg Package
	require.NoError(t, dataset.DecodeResult(got, &pkg))
	assert.Equal(t, "lake-levels", pkg.Name)
	assert.Equal(t, "Lake Levels", pkg.Title)
	assert.Equal(t, 2024, pkg.MetadataModified.Year())

	dup := e.CreateDataset(ctx, "lake-levels", nil)
	assert.False(t, dup.Success)
	assert.Equal(t, dataset.KindAlreadyExists, dup.Kind)
	assert.Contains(t, dup.Error, "already in use")
}

func TestDeleteTwice(t *testing.T) {
	e, _ := setup(t)
	ctx := context.Background()
	require.True(t, e.CreateDataset(ctx, "tmp", nil).Success)

	assert.True(t, e.DeleteDataset(ctx, "tmp", nil).Success)
	again := e.DeleteDataset(ctx, "tmp", nil)
	assert.False(t, again.Success)
	assert.Equal(t, dataset.KindNotFound, again.Kind)
}

func TestUpdateDatasetPreservesResources(t *testing.T) {
	e, fake := setup(t)
	ctx := context.Background()
	require.True(t, e.CreateDataset(ctx, "rivers", dataset.Options{"tags": []string{"flow"}}).Success)
	require.True(t, e.CreateResource(ctx, "rivers", dataset.Source{URL: "http://x/flow.csv"}, nil).Success)

	r := e.UpdateDataset(ctx, "rivers", dataset.Options{"title": "Rivers"})
	require.True(t, r.Success, r.Error)
	assert.Equal(t, []string{"package_show", "package_update"}, fake.calls[len(fake.calls)-2:])
	assert.Equal(t, "Rivers", fake.lastBody["title"])
	assert.Len(t, fake.lastBody["resources"], 1)
	assert.Len(t, fake.lastBody["tags"], 1)

	missing := e.UpdateDataset(ctx, "absent", dataset.Options{"title": "x"})
	assert.Equal(t, dataset.KindNotFound, missing.Kind)
}

func TestSearchDatasets(t *testing.T) {
	e, fake := setup(t)
	ctx := context.Background()

	r := e.SearchDatasets(ctx, nil, nil)
	assert.Equal(t, dataset.KindInvalid, r.Kind)
	assert.Empty(t, fake.calls)

	r = e.SearchDatasets(ctx, dataset.Query{"tags": "water", "name": "lake"},
		dataset.Options{"filtered_query": map[string]interface{}{"organization": "byu"}, "rows": 5})
	require.True(t, r.Success, r.Error)
	assert.Equal(t, "name:lake tags:water", fake.lastBody["q"])
	assert.Equal(t, "organization:byu", fake.lastBody["fq"])
	assert.Equal(t, float64(5), fake.lastBody["rows"])

	r = e.SearchResources(ctx, dataset.Query{"format": "csv"}, nil)
	require.True(t, r.Success)
	assert.Equal(t, []interface{}{"format:csv"}, fake.lastBody["query"])
}

func TestCreateResourceFromURL(t *testing.T) {
	e, fake := setup(t)
	ctx := context.Background()
	require.True(t, e.CreateDataset(ctx, "rivers", nil).Success)
	fake.calls = nil

	r := e.CreateResource(ctx, "rivers", dataset.Source{URL: "http://x/data.csv"}, dataset.Options{"name": "data"})
	require.True(t, r.Success, r.Error)
	assert.Equal(t, []string{"resource_create"}, fake.calls)

	bad := e.CreateResource(ctx, "rivers", dataset.Source{}, nil)
	assert.Equal(t, dataset.KindInvalid, bad.Kind)
	bad = e.CreateResource(ctx, "rivers", dataset.Source{URL: "http://x", Path: "/tmp/x"}, nil)
	assert.Equal(t, dataset.KindInvalid, bad.Kind)
}

func TestCreateResourceUpload(t *testing.T) {
	e, fake := setup(t)
	ctx := context.Background()
	require.True(t, e.CreateDataset(ctx, "rivers", nil).Success)
	fake.calls = nil

	src := dataset.Source{Reader: strings.NewReader("a,b\n1,2\n"), FileName: "flow.csv"}
	r := e.CreateResource(ctx, "rivers", src, nil)
	require.True(t, r.Success, r.Error)
	assert.Equal(t, []string{"resource_create", "resource_patch"}, fake.calls)
	res, _ := r.Map()
	assert.Equal(t, "upload", res["url_type"])
	assert.Equal(t, "flow.csv", res["name"])
}

func TestCreateResourceUploadFailureRemovesStub(t *testing.T) {
	e, fake := setup(t)
	ctx := context.Background()
	require.True(t, e.CreateDataset(ctx, "rivers", nil).Success)
	fake.failUpload = true
	fake.calls = nil

	src := dataset.Source{Reader: strings.NewReader("x"), FileName: "flow.csv"}
	r := e.CreateResource(ctx, "rivers", src, nil)
	assert.False(t, r.Success)
	assert.Contains(t, r.Error, "storage unavailable")
	assert.Equal(t, []string{"resource_create", "resource_patch", "resource_delete"}, fake.calls)
	assert.Empty(t, fake.resources)
}

func TestUpdateResourceKeepsURL(t *testing.T) {
	e, fake := setup(t)
	ctx := context.Background()
	require.True(t, e.CreateDataset(ctx, "rivers", nil).Success)
	created := e.CreateResource(ctx, "rivers", dataset.Source{URL: "http://x/flow.csv"}, nil)
	m, _ := created.Map()
	id := m["id"].(string)

	r := e.UpdateResource(ctx, id, dataset.Source{}, dataset.Options{"description": "daily"})
	require.True(t, r.Success, r.Error)
	assert.Equal(t, "http://x/flow.csv", fake.lastBody["url"])
	assert.Equal(t, "daily", fake.lastBody["description"])

	r = e.UpdateResource(ctx, id, dataset.Source{URL: "http://x/v2.csv"}, nil)
	require.True(t, r.Success)
	assert.Equal(t, "http://x/v2.csv", fake.lastBody["url"])

	assert.True(t, e.DeleteResource(ctx, id, nil).Success)
	assert.Equal(t, dataset.KindNotFound, e.GetResource(ctx, id, nil).Kind)
}

func TestListResources(t *testing.T) {
	e, _ := setup(t)
	ctx := context.Background()
	require.True(t, e.CreateDataset(ctx, "rivers", nil).Success)
	require.True(t, e.CreateResource(ctx, "rivers", dataset.Source{URL: "http://x/a.csv"}, nil).Success)

	r := e.ListResources(ctx, "rivers", nil)
	require.True(t, r.Success)
	assert.Len(t, r.Result, 1)

	assert.Equal(t, dataset.KindNotFound, e.ListResources(ctx, "none", nil).Kind)
}

func TestValidate(t *testing.T) {
	e, fake := setup(t)
	assert.NoError(t, e.Validate(context.Background()))

	fake.version = "1.8.0"
	assert.ErrorContains(t, e.Validate(context.Background()), "at least")
}

func TestNonEnvelopeResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "package_list") {
			_, _ = io.WriteString(w, "<html>maintenance</html>")
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "bad gateway")
	}))
	defer srv.Close()

	e, err := New(Config{Endpoint: srv.URL})
	require.NoError(t, err)

	r := e.ListDatasets(context.Background(), nil)
	assert.Equal(t, dataset.KindResponseShape, r.Kind)

	r = e.GetDataset(context.Background(), "x", nil)
	assert.False(t, r.Success)
	assert.Equal(t, dataset.KindApplication, r.Kind)
	assert.Contains(t, r.Error, "bad gateway")
}

func TestTransportFailure(t *testing.T) {
	e, err := New(Config{Endpoint: "http://127.0.0.1:1/api/3/action"})
	require.NoError(t, err)
	r := e.ListDatasets(context.Background(), nil)
	assert.False(t, r.Success)
	assert.Equal(t, dataset.KindTransport, r.Kind)
}

func TestDownloadDataset(t *testing.T) {
	e, fake := setup(t)
	ctx := context.Background()
	fake.files["flow.csv"] = "a,b\n"
	require.True(t, e.CreateDataset(ctx, "rivers", nil).Success)
	require.True(t, e.CreateResource(ctx, "rivers", dataset.Source{URL: fake.baseURL + "/files/flow.csv"}, nil).Success)

	dir := t.TempDir()
	r := e.DownloadDataset(ctx, "rivers", dir)
	require.True(t, r.Success, r.Error)
	got, err := os.ReadFile(filepath.Join(dir, "rivers", "flow.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(got))
}

func TestDownloadResourceKeepsAPIKeyOnCatalogHost(t *testing.T) {
	var mu sync.Mutex
	var headers []string
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headers = append(headers, r.Header.Get("X-CKAN-API-Key")+"|"+r.Header.Get("Authorization"))
		mu.Unlock()
		_, _ = io.WriteString(w, "x,y\n")
	}))
	defer foreign.Close()

	e, fake := setup(t)
	ctx := context.Background()
	require.True(t, e.CreateDataset(ctx, "rivers", nil).Success)
	r := e.CreateResource(ctx, "rivers", dataset.Source{URL: foreign.URL + "/remote.csv"}, nil)
	require.True(t, r.Success, r.Error)
	res, _ := r.Map()

	dir := t.TempDir()
	r = e.DownloadResource(ctx, res["id"].(string), dir)
	require.True(t, r.Success, r.Error)
	got, err := os.ReadFile(filepath.Join(dir, "remote.csv"))
	require.NoError(t, err)
	assert.Equal(t, "x,y\n", string(got))

	mu.Lock()
	assert.Equal(t, []string{"|"}, headers)
	mu.Unlock()
	assert.Contains(t, fake.apiKeys, "key-123")
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "flow.csv", fileName(Resource{URL: "http://x/data/flow.csv", ID: "r1"}))
	assert.Equal(t, "Flow data", fileName(Resource{URL: "http://x/..", Name: "Flow data", ID: "r1"}))
	assert.Equal(t, "a_b", fileName(Resource{URL: "http://x/", Name: "a/b", ID: "r1"}))
	assert.Equal(t, "r1", fileName(Resource{URL: "http://x/", Name: "..", ID: "r1"}))
	assert.Equal(t, "resource", fileName(Resource{Name: "..", ID: ".."}))
}
