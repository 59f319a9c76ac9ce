package hydroshare

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type fakeFile struct {
	path string
	data []byte
}

type fakeResource struct {
	id       string
	title    string
	rtype    string
	abstract string
	keywords []string
	elements map[string]interface{}
	files    []fakeFile
}

// fakeHydroShare serves the parts of hsapi the engine uses, plus the
// OAuth2 token endpoint and file content URLs.
type fakeHydroShare struct {
	mu        sync.Mutex
	resources map[string]*fakeResource
	order     []string
	requests  int
	pageSize  int
	deletes   int
	// uploadFailures makes the next n file uploads fail with a 500.
	uploadFailures int

	username     string
	password     string
	token        string
	clientID     string
	tokenIssued  string
	tokenCalls   int
	lastAuthHead string
	lastCreate   url.Values
}

func newFakeHydroShare() *fakeHydroShare {
	return &fakeHydroShare{
		resources: map[string]*fakeResource{},
		pageSize:  2,
	}
}

func (f *fakeHydroShare) add(title string, files ...fakeFile) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := NewResourceID()
	f.resources[id] = &fakeResource{id: id, title: title, rtype: DefaultResourceType, files: files}
	f.order = append(f.order, id)
	return id
}

func (f *fakeHydroShare) resource(id string) *fakeResource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resources[id]
}

func (f *fakeHydroShare) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "No " + what + " was found"})
}

func (f *fakeHydroShare) authorized(r *http.Request) bool {
	head := r.Header.Get("Authorization")
	f.lastAuthHead = head
	switch {
	case f.token != "":
		return head == "Bearer "+f.token
	case f.clientID != "":
		return f.tokenIssued != "" && head == "Bearer "+f.tokenIssued
	case f.username != "":
		u, p, ok := r.BasicAuth()
		return ok && u == f.username && p == f.password
	}
	return true
}

func (f *fakeHydroShare) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++

	if r.URL.Path == "/o/token/" {
		f.serveToken(w, r)
		return
	}
	if !f.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid credentials."})
		return
	}
	base := "http://" + r.Host

	if rest, ok := strings.CutPrefix(r.URL.Path, "/resource/"); ok {
		id, p, _ := strings.Cut(rest, "/data/contents/")
		res := f.resources[id]
		if res == nil {
			notFound(w, "resource")
			return
		}
		for _, file := range res.files {
			if file.path == p {
				w.Write(file.data)
				return
			}
		}
		notFound(w, "file")
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/hsapi/"), "/"), "/")
	switch {
	case parts[0] == "userInfo":
		writeJSON(w, http.StatusOK, map[string]interface{}{"username": "jdoe", "id": 7})
	case parts[0] == "resource" && len(parts) == 1:
		f.serveResources(w, r, base)
	case parts[0] == "resource":
		res := f.resources[parts[1]]
		if res == nil {
			notFound(w, "resource")
			return
		}
		f.serveResource(w, r, base, res, parts[2:])
	default:
		notFound(w, "route")
	}
}

func (f *fakeHydroShare) serveToken(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	f.tokenCalls++
	if r.PostForm.Get("grant_type") != "password" || r.PostForm.Get("client_id") != f.clientID ||
		r.PostForm.Get("username") != f.username || r.PostForm.Get("password") != f.password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant"})
		return
	}
	f.tokenIssued = "issued-" + strconv.Itoa(f.tokenCalls)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": f.tokenIssued,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func (f *fakeHydroShare) serveResources(w http.ResponseWriter, r *http.Request, base string) {
	if r.Method == http.MethodPost {
		r.ParseForm()
		f.lastCreate = r.PostForm
		id := NewResourceID()
		f.resources[id] = &fakeResource{
			id:       id,
			title:    r.PostForm.Get("title"),
			rtype:    r.PostForm.Get("resource_type"),
			abstract: r.PostForm.Get("abstract"),
			keywords: r.PostForm["keywords"],
		}
		f.order = append(f.order, id)
		writeJSON(w, http.StatusCreated, map[string]string{"resource_id": id})
		return
	}

	q := r.URL.Query()
	var matched []map[string]interface{}
	for _, id := range f.order {
		res := f.resources[id]
		if res == nil {
			continue
		}
		if s := q.Get("full_text_search"); s != "" && !strings.Contains(strings.ToLower(res.title), strings.ToLower(s)) {
			continue
		}
		if t := q.Get("type"); t != "" && res.rtype != t {
			continue
		}
		matched = append(matched, map[string]interface{}{
			"resource_id":    res.id,
			"resource_title": res.title,
			"resource_type":  res.rtype,
		})
	}
	f.writePage(w, r, base, matched)
}

func (f *fakeHydroShare) writePage(w http.ResponseWriter, r *http.Request, base string, all []map[string]interface{}) {
	q := r.URL.Query()
	pageNum, _ := strconv.Atoi(q.Get("page"))
	if pageNum < 1 {
		pageNum = 1
	}
	start := (pageNum - 1) * f.pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + f.pageSize
	if end > len(all) {
		end = len(all)
	}
	var next interface{}
	if end < len(all) {
		q.Set("page", strconv.Itoa(pageNum+1))
		next = base + r.URL.Path + "?" + q.Encode()
	}
	results := all[start:end]
	if results == nil {
		results = []map[string]interface{}{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(all),
		"next":     next,
		"previous": nil,
		"results":  results,
	})
}

func (f *fakeHydroShare) serveResource(w http.ResponseWriter, r *http.Request, base string, res *fakeResource, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "application/zip")
		io.WriteString(w, "bag-"+res.id)
	case len(rest) == 0 && r.Method == http.MethodDelete:
		delete(f.resources, res.id)
		w.WriteHeader(http.StatusNoContent)
	case len(rest) == 0:
		w.WriteHeader(http.StatusMethodNotAllowed)
	case rest[0] == "sysmeta":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"resource_id":       res.id,
			"resource_title":    res.title,
			"resource_type":     res.rtype,
			"creator":           "jdoe",
			"public":            false,
			"discoverable":      false,
			"date_created":      "03-01-2024",
			"date_last_updated": "03-02-2024",
			"bag_url":           base + "/hsapi/resource/" + res.id + "/",
			"resource_url":      base + "/resource/" + res.id + "/",
		})
	case rest[0] == "scimeta" && r.Method == http.MethodPut:
		var elements map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&elements); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
			return
		}
		res.elements = elements
		if t, ok := elements["title"].(string); ok {
			res.title = t
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"resource_id": res.id})
	case rest[0] == "files":
		f.serveFiles(w, r, base, res, strings.Join(rest[1:], "/"))
	default:
		notFound(w, "route")
	}
}

func (f *fakeHydroShare) serveFiles(w http.ResponseWriter, r *http.Request, base string, res *fakeResource, p string) {
	switch r.Method {
	case http.MethodGet:
		entries := make([]map[string]interface{}, 0, len(res.files))
		for _, file := range res.files {
			entries = append(entries, map[string]interface{}{
				"file_name":    file.path,
				"url":          base + "/resource/" + res.id + "/data/contents/" + file.path,
				"size":         len(file.data),
				"content_type": "text/plain",
				"logical_type": "",
			})
		}
		f.writePage(w, r, base, entries)
	case http.MethodPost:
		if f.uploadFailures > 0 {
			f.uploadFailures--
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "irods unavailable"})
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "file is required"})
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		name := header.Filename
		if folder := r.FormValue("folder"); folder != "" {
			name = folder + "/" + name
		}
		for _, existing := range res.files {
			if existing.path == name {
				writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "A file " + name + " already exists"})
				return
			}
		}
		res.files = append(res.files, fakeFile{path: name, data: data})
		sort.Slice(res.files, func(i, j int) bool { return res.files[i].path < res.files[j].path })
		writeJSON(w, http.StatusCreated, map[string]string{"resource_id": res.id, "file_name": name})
	case http.MethodDelete:
		f.deletes++
		for i, file := range res.files {
			if file.path == p {
				res.files = append(res.files[:i], res.files[i+1:]...)
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		notFound(w, "file")
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
