package geoserver

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/tethys-dataset-services/internal/common/archive"
)

var collections = map[string][2]string{
	"workspaces":     {"workspaces", "workspace"},
	"datastores":     {"dataStores", "dataStore"},
	"coveragestores": {"coverageStores", "coverageStore"},
	"featuretypes":   {"featureTypes", "featureType"},
	"coverages":      {"coverages", "coverage"},
	"layers":         {"layers", "layer"},
	"layergroups":    {"layerGroups", "layerGroup"},
	"styles":         {"styles", "style"},
}

// fakeGeoServer is an in-memory REST catalog with just enough GeoWebCache
// and WFS behavior for the engine tests.
type fakeGeoServer struct {
	mu        sync.Mutex
	objects   map[string]map[string]interface{}
	requests  []string
	bodies    map[string][]byte
	queries   map[string]string
	gwcLayers map[string]string
	gwcCalls  []string
	wfsBody   string
	tasks     string
	reloads   int
	defaultWS string
	username  string
	password  string
}

func newFakeGeoServer() *fakeGeoServer {
	return &fakeGeoServer{
		objects:   map[string]map[string]interface{}{},
		bodies:    map[string][]byte{},
		queries:   map[string]string{},
		gwcLayers: map[string]string{},
		defaultWS: "topp",
		username:  "admin",
		password:  "geoserver",
	}
}

func (f *fakeGeoServer) put(p string, obj map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[p] = obj
}

func (f *fakeGeoServer) has(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[p]
	return ok
}

func (f *fakeGeoServer) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeGeoServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if u, p, ok := r.BasicAuth(); !ok || u != f.username || p != f.password {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	body, _ := io.ReadAll(r.Body)

	switch p := r.URL.Path; {
	case strings.HasPrefix(p, "/geoserver/gwc/rest/"):
		f.serveGWC(w, r, strings.TrimPrefix(p, "/geoserver/gwc/rest/"), body)
	case p == "/geoserver/wfs":
		f.requests = append(f.requests, "GET wfs")
		_, _ = io.WriteString(w, f.wfsBody)
	case strings.HasPrefix(p, "/geoserver/rest"):
		f.serveREST(w, r, strings.Trim(strings.TrimPrefix(p, "/geoserver/rest"), "/"), body)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// canonical drops the store segment from feature type and coverage paths,
// which GeoServer also serves directly under the workspace.
func canonical(segs []string) ([]string, string) {
	for i := 0; i+2 < len(segs); i++ {
		if (segs[i] == "datastores" || segs[i] == "coveragestores") &&
			(segs[i+2] == "featuretypes" || segs[i+2] == "coverages") {
			out := append(append([]string{}, segs[:i]...), segs[i+2:]...)
			return out, segs[i+1]
		}
	}
	return segs, ""
}

func (f *fakeGeoServer) serveREST(w http.ResponseWriter, r *http.Request, p string, body []byte) {
	f.requests = append(f.requests, r.Method+" "+p)
	f.bodies[r.Method+" "+p] = body
	f.queries[r.Method+" "+p] = r.URL.RawQuery

	switch {
	case p == "" && r.Method == http.MethodGet:
		_, _ = io.WriteString(w, "<html><title>Geoserver Configuration API</title></html>")
		return
	case p == "reload":
		f.reloads++
		return
	case p == "about/version.json":
		writeJSON(w, http.StatusOK, map[string]interface{}{"about": map[string]interface{}{
			"resource": []interface{}{map[string]interface{}{"@name": "GeoServer", "Version": "2.23.1"}}}})
		return
	case p == "workspaces/default.json":
		writeJSON(w, http.StatusOK, map[string]interface{}{"workspace": map[string]interface{}{"name": f.defaultWS}})
		return
	case strings.HasPrefix(p, "namespaces/"):
		return
	}

	p = strings.TrimSuffix(p, ".json")
	segs, store := canonical(strings.Split(p, "/"))
	last := segs[len(segs)-1]
	if strings.HasPrefix(last, "file.") || strings.HasPrefix(last, "url.") {
		f.upload(w, r, segs, body)
		return
	}
	key := strings.Join(segs, "/")

	switch r.Method {
	case http.MethodGet:
		if obj, ok := f.objects[key]; ok {
			root := collections[segs[len(segs)-2]][1]
			writeJSON(w, http.StatusOK, map[string]interface{}{root: obj})
			return
		}
		if names, ok := collections[last]; ok && f.parentExists(segs) {
			writeJSON(w, http.StatusOK, f.listing(key, names))
			return
		}
		http.Error(w, "No such object: "+last, http.StatusNotFound)
	case http.MethodPost:
		if !f.parentExists(segs) {
			http.Error(w, "No such workspace", http.StatusNotFound)
			return
		}
		obj := map[string]interface{}{}
		switch ct := r.Header.Get("Content-Type"); {
		case strings.Contains(ct, "json"):
			var doc map[string]map[string]interface{}
			_ = json.Unmarshal(body, &doc)
			for _, v := range doc {
				obj = v
			}
		case strings.Contains(ct, "sld"):
			obj["name"] = r.URL.Query().Get("name")
		default:
			var x struct {
				Name string `xml:"name"`
			}
			if err := xml.Unmarshal(body, &x); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			obj["name"] = x.Name
		}
		name, _ := obj["name"].(string)
		child := key + "/" + name
		if _, exists := f.objects[child]; exists {
			http.Error(w, fmt.Sprintf("%s '%s' already exists", collections[last][1], name), http.StatusInternalServerError)
			return
		}
		f.create(segs, name, store, obj)
		w.WriteHeader(http.StatusCreated)
	case http.MethodPut:
		obj, ok := f.objects[key]
		if !ok {
			http.Error(w, "No such "+last, http.StatusNotFound)
			return
		}
		if strings.Contains(r.Header.Get("Content-Type"), "json") {
			var doc map[string]map[string]interface{}
			_ = json.Unmarshal(body, &doc)
			for _, v := range doc {
				obj = v
			}
			if n, ok := obj["name"].(string); ok && n != last {
				delete(f.objects, key)
				key = strings.Join(append(segs[:len(segs)-1:len(segs)-1], n), "/")
			}
			f.objects[key] = obj
		}
	case http.MethodDelete:
		if _, ok := f.objects[key]; !ok {
			http.Error(w, "No such "+last, http.StatusNotFound)
			return
		}
		for k := range f.objects {
			if k == key || strings.HasPrefix(k, key+"/") {
				delete(f.objects, k)
			}
		}
		if len(segs) == 4 && (segs[2] == "featuretypes" || segs[2] == "coverages") {
			delete(f.objects, "layers/"+segs[1]+":"+segs[3])
		}
	}
}

// parentExists reports whether the object owning the collection at segs
// exists. Top level collections always do.
func (f *fakeGeoServer) parentExists(segs []string) bool {
	if len(segs) < 2 {
		return true
	}
	_, ok := f.objects[strings.Join(segs[:len(segs)-1], "/")]
	return ok
}

func (f *fakeGeoServer) listing(key string, names [2]string) map[string]interface{} {
	var entries []string
	for k := range f.objects {
		if rest := strings.TrimPrefix(k, key+"/"); rest != k && !strings.Contains(rest, "/") {
			entries = append(entries, rest)
		}
	}
	if len(entries) == 0 {
		return map[string]interface{}{names[0]: ""}
	}
	sort.Strings(entries)
	list := make([]interface{}, len(entries))
	for i, n := range entries {
		list[i] = map[string]interface{}{"name": n}
	}
	return map[string]interface{}{names[0]: map[string]interface{}{names[1]: list}}
}

func (f *fakeGeoServer) create(segs []string, name, store string, obj map[string]interface{}) {
	key := strings.Join(segs, "/") + "/" + name
	obj["name"] = name
	f.objects[key] = obj
	if len(segs) == 3 && (segs[2] == "featuretypes" || segs[2] == "coverages") {
		ws := segs[1]
		obj["store"] = map[string]interface{}{"name": ws + ":" + store}
		f.objects["layers/"+ws+":"+name] = map[string]interface{}{"name": name}
	}
}

// upload handles PUT .../{store}/file.{ext} and url.{ext}.
func (f *fakeGeoServer) upload(w http.ResponseWriter, r *http.Request, segs []string, body []byte) {
	ws, collection, store := segs[1], segs[2], segs[3]
	if _, ok := f.objects["workspaces/"+ws]; !ok {
		http.Error(w, "No such workspace", http.StatusNotFound)
		return
	}
	storeKey := strings.Join(segs[:4], "/")
	if _, ok := f.objects[storeKey]; !ok {
		f.objects[storeKey] = map[string]interface{}{"name": store, "type": strings.TrimPrefix(path.Ext(segs[4]), ".")}
	}

	var name string
	switch {
	case strings.HasPrefix(segs[4], "url."):
		name = strings.TrimSuffix(path.Base(string(body)), path.Ext(string(body)))
	case collection == "coveragestores":
		name = r.URL.Query().Get("coverageName")
		if name == "" {
			name = store
		}
	default:
		files, err := archive.List(body)
		if err != nil {
			http.Error(w, "Error occured unzipping file", http.StatusInternalServerError)
			return
		}
		for _, fn := range files {
			if path.Ext(fn) == ".shp" {
				name = strings.TrimSuffix(fn, ".shp")
			}
		}
	}
	child := "featuretypes"
	if collection == "coveragestores" {
		child = "coverages"
	}
	f.create([]string{"workspaces", ws, child}, name, store, map[string]interface{}{"enabled": true})
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeGeoServer) serveGWC(w http.ResponseWriter, r *http.Request, p string, body []byte) {
	f.gwcCalls = append(f.gwcCalls, r.Method+" "+p)
	switch {
	case p == "reload":
		form, _ := url.ParseQuery(string(body))
		if form.Get("reload_configuration") == "1" {
			f.reloads++
		}
	case p == "masstruncate":
		f.bodies["gwc "+p] = body
	case strings.HasPrefix(p, "layers/"):
		layer := strings.TrimSuffix(strings.TrimPrefix(p, "layers/"), ".xml")
		switch r.Method {
		case http.MethodGet:
			x, ok := f.gwcLayers[layer]
			if !ok {
				http.Error(w, "Unknown layer: "+layer, http.StatusNotFound)
				return
			}
			_, _ = io.WriteString(w, x)
		case http.MethodPut:
			if _, ok := f.gwcLayers[layer]; ok {
				http.Error(w, "Layer already exists", http.StatusMethodNotAllowed)
				return
			}
			f.gwcLayers[layer] = string(body)
		case http.MethodPost:
			if _, ok := f.gwcLayers[layer]; !ok {
				http.Error(w, "Unknown layer: "+layer, http.StatusNotFound)
				return
			}
			f.gwcLayers[layer] = string(body)
		}
	case strings.HasPrefix(p, "seed/") && strings.HasSuffix(p, ".json"):
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, f.tasks)
	case strings.HasPrefix(p, "seed/"):
		if r.Method == http.MethodPost && !strings.HasSuffix(p, ".xml") {
			form, _ := url.ParseQuery(string(body))
			f.bodies["kill "+p] = []byte(form.Get("kill_all"))
			return
		}
		f.bodies["gwc "+p] = body
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
