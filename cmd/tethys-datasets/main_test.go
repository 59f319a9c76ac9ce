package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tethys-dataset-services/pkg/dataset"
)

func writeServices(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "services.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (*dataset.Response, error) {
	t.Helper()
	var out bytes.Buffer
	err := Main(append([]string{"tethys-datasets", "--log", "error"}, args...), &out)
	if err != nil && !errors.Is(err, errFailed) {
		return nil, err
	}
	var resp dataset.Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp), out.String())
	return &resp, err
}

func fakeCKAN(t *testing.T, hits *int32) string {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		switch strings.TrimPrefix(r.URL.Path, "/api/3/action/") {
		case "package_list":
			w.Write([]byte(`{"success":true,"result":["rivers","lakes"]}`))
		case "package_show":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"success":false,"error":{"__type":"Not Found Error","message":"Not found"}}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"success":false,"error":{"__type":"Parameter Error","message":"bad action"}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/api/3/action"
}

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{"with_resources=true", `extras={"a":1}`, "tags=[\"x\",\"y\"]", "q=a=b"})
	require.NoError(t, err)
	assert.Equal(t, "true", opts["with_resources"])
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, opts["extras"])
	assert.Equal(t, []interface{}{"x", "y"}, opts["tags"])
	assert.Equal(t, "a=b", opts["q"])

	_, err = parseOptions([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseOptions([]string{"bad={"})
	assert.Error(t, err)
}

func TestParseQuery(t *testing.T) {
	q, err := parseQuery([]string{"name=rivers", "q=flood"})
	require.NoError(t, err)
	assert.Equal(t, dataset.Query{"name": "rivers", "q": "flood"}, q)

	_, err = parseQuery([]string{"=x"})
	assert.Equal(t, dataset.KindInvalid, dataset.KindOf(err))
}

func TestEnginesCommand(t *testing.T) {
	resp, err := run(t, "engines")
	require.NoError(t, err)
	require.NotNil(t, resp)
	names, ok := resp.Strings()
	require.True(t, ok)
	assert.Equal(t, []string{"ckan", "geoserver", "hydroshare"}, names)
}

func TestListAndGetDatasets(t *testing.T) {
	var hits int32
	services := writeServices(t, `
services:
  - name: catalog
    engine: ckan
    endpoint: `+fakeCKAN(t, &hits)+`
`)

	resp, err := run(t, "--services", services, "list-datasets")
	require.NoError(t, err)
	names, ok := resp.Strings()
	require.True(t, ok)
	assert.Equal(t, []string{"rivers", "lakes"}, names)

	resp, err = run(t, "--services", services, "--service", "catalog", "get-dataset", "missing")
	assert.ErrorIs(t, err, errFailed)
	require.NotNil(t, resp)
	assert.False(t, resp.Success)
	assert.Equal(t, dataset.KindNotFound, resp.Kind)
	assert.NotEmpty(t, resp.Error)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestMissingArgument(t *testing.T) {
	var hits int32
	services := writeServices(t, `
services:
  - name: catalog
    engine: ckan
    endpoint: `+fakeCKAN(t, &hits)+`
`)
	_, err := run(t, "--services", services, "get-dataset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 1 argument")
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestUnsupportedEngineInServicesFile(t *testing.T) {
	var hits int32
	services := writeServices(t, `
services:
  - name: legacy
    engine: arcgis
    endpoint: `+fakeCKAN(t, &hits)+`
`)
	_, err := run(t, "--services", services, "list-datasets")
	require.Error(t, err)
	assert.ErrorIs(t, err, dataset.ErrUnsupportedEngine)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestLayerCommandNeedsSpatialEngine(t *testing.T) {
	var hits int32
	services := writeServices(t, `
services:
  - name: catalog
    engine: ckan
    endpoint: `+fakeCKAN(t, &hits)+`
`)
	resp, err := run(t, "--services", services, "list-layers")
	assert.ErrorIs(t, err, errFailed)
	assert.Equal(t, dataset.KindInvalid, resp.Kind)
	assert.Zero(t, atomic.LoadInt32(&hits))
}
