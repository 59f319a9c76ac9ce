package geoserver

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/tethys-dataset-services/internal/common/transport"
	"github.com/tethys-dataset-services/pkg/dataset"
)

// Tile cache operations.
const (
	GWCSeed         = "seed"
	GWCReseed       = "reseed"
	GWCTruncate     = "truncate"
	GWCMassTruncate = "masstruncate"
)

// Task kinds accepted by TerminateTileCacheTasks.
const (
	GWCKillAll     = "all"
	GWCKillRunning = "running"
	GWCKillPending = "pending"
)

var gwcStatus = map[int64]string{
	-1: "Aborted",
	0:  "Pending",
	1:  "Running",
	2:  "Done",
}

// TileCacheRequest describes a seed, reseed or truncate task. Zero values
// take the defaults: zoom 10 to 15 on the 900913 grid set as PNG with one
// thread.
type TileCacheRequest struct {
	Operation   string
	ZoomStart   int
	ZoomEnd     int
	GridSetID   int
	Format      string
	ThreadCount int
	// Bounds is [minx, miny, maxx, maxy].
	Bounds     []float64
	Parameters map[string]string
}

func (r TileCacheRequest) withDefaults() TileCacheRequest {
	if r.ZoomStart == 0 && r.ZoomEnd == 0 {
		r.ZoomStart, r.ZoomEnd = 10, 15
	}
	if r.GridSetID == 0 {
		r.GridSetID = 900913
	}
	if r.Format == "" {
		r.Format = "image/png"
	}
	if r.ThreadCount == 0 {
		r.ThreadCount = 1
	}
	return r
}

func (r TileCacheRequest) xml(layerID string) seedRequestXML {
	s := seedRequestXML{
		Name:        layerID,
		GridSetID:   fmt.Sprintf("EPSG:%d", r.GridSetID),
		ZoomStart:   r.ZoomStart,
		ZoomStop:    r.ZoomEnd,
		Format:      r.Format,
		Type:        r.Operation,
		ThreadCount: r.ThreadCount,
	}
	if len(r.Bounds) == 4 {
		s.Bounds = &struct {
			Coords []float64 `xml:"coords>double"`
		}{Coords: r.Bounds}
	}
	keys := make([]string, 0, len(r.Parameters))
	for k := range r.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.Parameters = append(s.Parameters, entry{Key: k, Value: r.Parameters[k]})
	}
	return s
}

// ModifyTileCache submits a tile cache task for a layer.
func (e *Engine) ModifyTileCache(ctx context.Context, layerID string, tr TileCacheRequest) *dataset.Response {
	const op = "modify_tile_cache"
	switch tr.Operation {
	case GWCSeed, GWCReseed, GWCTruncate, GWCMassTruncate:
	default:
		return dataset.Failf(dataset.KindInvalid, op, "invalid operation %q, must be one of %s",
			tr.Operation, strings.Join([]string{GWCSeed, GWCReseed, GWCTruncate, GWCMassTruncate}, ", "))
	}
	tr = tr.withDefaults()
	if tr.ZoomStart < 0 || tr.ZoomEnd > 30 || tr.ZoomStart > tr.ZoomEnd {
		return dataset.Failf(dataset.KindInvalid, op, "invalid zoom range %d to %d", tr.ZoomStart, tr.ZoomEnd)
	}
	if tr.Bounds != nil && len(tr.Bounds) != 4 {
		return dataset.Failf(dataset.KindInvalid, op, "bounds must have 4 ordinates")
	}
	ws, name, err := e.resolve(ctx, layerID)
	if err != nil {
		return dataset.Fail(err)
	}
	id := JoinID(ws, name)

	req := request{op: op, method: http.MethodPost, contentType: "text/xml"}
	if tr.Operation == GWCMassTruncate {
		req.url = e.GWCEndpoint(false) + "masstruncate"
		req.body = truncateLayerXML{LayerName: id}
	} else {
		req.url = e.gwcURL(false, "seed", id+".xml")
		req.body = tr.xml(id)
	}
	if _, err := e.do(ctx, req); err != nil {
		return dataset.Fail(err)
	}
	e.logger.Info("Tile cache task submitted", "layer", id, "operation", tr.Operation,
		"zoom_start", tr.ZoomStart, "zoom_end", tr.ZoomEnd)
	return dataset.OK(nil)
}

// TerminateTileCacheTasks kills the running, pending or all tasks of a layer.
func (e *Engine) TerminateTileCacheTasks(ctx context.Context, layerID, kill string) *dataset.Response {
	const op = "terminate_tile_cache_tasks"
	if kill == "" {
		kill = GWCKillAll
	}
	if kill != GWCKillAll && kill != GWCKillRunning && kill != GWCKillPending {
		return dataset.Failf(dataset.KindInvalid, op, "invalid kill %q, must be all, running or pending", kill)
	}
	ws, name, err := e.resolve(ctx, layerID)
	if err != nil {
		return dataset.Fail(err)
	}
	resp, err := e.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"kill_all": kill}).
		Post(e.gwcURL(false, "seed", JoinID(ws, name)))
	if err := transport.Check(op, resp, err); err != nil {
		return dataset.Fail(err)
	}
	e.logger.Info("Tile cache tasks terminated", "layer", JoinID(ws, name), "kill", kill)
	return dataset.OK(nil)
}

// TileCacheTask is the state of one GeoWebCache task.
type TileCacheTask struct {
	TilesProcessed int64  `json:"tiles_processed"`
	TotalToProcess int64  `json:"total_to_process"`
	NumRemaining   int64  `json:"num_remaining"`
	TaskID         int64  `json:"task_id"`
	TaskStatus     string `json:"task_status"`
}

// QueryTileCacheTasks returns the tile cache tasks of a layer.
func (e *Engine) QueryTileCacheTasks(ctx context.Context, layerID string) *dataset.Response {
	const op = "query_tile_cache_tasks"
	ws, name, err := e.resolve(ctx, layerID)
	if err != nil {
		return dataset.Fail(err)
	}
	resp, err := e.do(ctx, request{
		op:     op,
		method: http.MethodGet,
		url:    e.gwcURL(false, "seed", JoinID(ws, name)+".json"),
		accept: "application/json",
	})
	if err != nil {
		return dataset.Fail(err)
	}
	var doc struct {
		Tasks [][]int64 `json:"long-array-array"`
	}
	if err := transport.DecodeJSON(op, resp, &doc); err != nil {
		return dataset.Fail(err)
	}
	tasks := make([]TileCacheTask, 0, len(doc.Tasks))
	for _, t := range doc.Tasks {
		if len(t) < 5 {
			return dataset.Failf(dataset.KindResponseShape, op, "task entry has %d fields", len(t))
		}
		status, ok := gwcStatus[t[4]]
		if !ok {
			status = fmt.Sprint(t[4])
		}
		tasks = append(tasks, TileCacheTask{
			TilesProcessed: t[0],
			TotalToProcess: t[1],
			NumRemaining:   t[2],
			TaskID:         t[3],
			TaskStatus:     status,
		})
	}
	return dataset.OK(tasks)
}
