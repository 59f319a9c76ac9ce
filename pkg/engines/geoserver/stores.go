package geoserver

import (
	"context"
	"net/http"

	"github.com/tethys-dataset-services/internal/common/db"
	"github.com/tethys-dataset-services/pkg/dataset"
)

// ListStores lists the data and coverage stores of a workspace, or of the
// default workspace when none is given.
func (e *Engine) ListStores(ctx context.Context, workspace string, opts dataset.Options) *dataset.Response {
	var o listOptions
	if _, err := opts.Decode("list_stores", &o, true); err != nil {
		return dataset.Fail(err)
	}
	if workspace == "" {
		ws, err := e.DefaultWorkspace(ctx)
		if err != nil {
			return dataset.Fail(err)
		}
		workspace = ws
	}
	data, err := e.list(ctx, "list_stores", "dataStores", "dataStore", o.WithProperties, "workspaces", workspace, "datastores")
	if err != nil {
		return dataset.Fail(err)
	}
	coverage, err := e.list(ctx, "list_stores", "coverageStores", "coverageStore", o.WithProperties, "workspaces", workspace, "coveragestores")
	if err != nil {
		return dataset.Fail(err)
	}
	return dataset.OK(concat(data, coverage))
}

// concat joins two results of list, which share a concrete type.
func concat(a, b interface{}) interface{} {
	switch av := a.(type) {
	case []string:
		return append(av, b.([]string)...)
	case []interface{}:
		return append(av, b.([]interface{})...)
	}
	return a
}

// GetStore returns a data store, falling back to a coverage store of the
// same name.
func (e *Engine) GetStore(ctx context.Context, storeID string, opts dataset.Options) *dataset.Response {
	store, _, err := e.getStore(ctx, storeID)
	if err != nil {
		return dataset.Fail(err)
	}
	return dataset.OK(store)
}

// getStore returns the store object and the collection it was found in.
func (e *Engine) getStore(ctx context.Context, storeID string) (map[string]interface{}, string, error) {
	ws, name, err := e.resolve(ctx, storeID)
	if err != nil {
		return nil, "", err
	}
	store, err := e.getObject(ctx, "get_store", "dataStore", "workspaces", ws, "datastores", name)
	if err == nil {
		return store, "datastores", nil
	}
	if !dataset.IsNotFound(err) {
		return nil, "", err
	}
	store, err = e.getObject(ctx, "get_store", "coverageStore", "workspaces", ws, "coveragestores", name)
	if err != nil {
		if dataset.IsNotFound(err) {
			return nil, "", dataset.Errorf(dataset.KindNotFound, "get_store", "no store named %q in workspace %q", name, ws)
		}
		return nil, "", err
	}
	return store, "coveragestores", nil
}

// CreatePostGISStore creates a PostGIS data store. An existing store of
// the same name is returned unchanged.
func (e *Engine) CreatePostGISStore(ctx context.Context, storeID string, store PostGISStore, opts dataset.Options) *dataset.Response {
	const op = "create_postgis_store"
	if _, err := opts.Decode(op, &struct{}{}, true); err != nil {
		return dataset.Fail(err)
	}
	if store.Host == "" || store.Database == "" {
		return dataset.Failf(dataset.KindInvalid, op, "host and database are required")
	}
	ws, name, err := e.resolve(ctx, storeID)
	if err != nil {
		return dataset.Fail(err)
	}
	if err := e.ensureWorkspace(ctx, op, ws); err != nil {
		return dataset.Fail(err)
	}

	_, err = e.do(ctx, request{
		op:          op,
		method:      http.MethodPost,
		url:         e.restURL("workspaces", ws, "datastores"),
		contentType: "application/xml",
		body:        store.withDefaults().xml(name),
	})
	switch {
	case err == nil:
		e.logger.Info("PostGIS store created", "store", JoinID(ws, name), "host", store.Host, "database", store.Database)
	case dataset.IsAlreadyExists(err):
		e.logger.Debug("Store already exists", "store", JoinID(ws, name))
	default:
		return dataset.Fail(err)
	}
	return e.GetStore(ctx, JoinID(ws, name), nil)
}

// LinkDatabase creates a PostGIS store from a postgres:// URL. With the
// "verify" option the database is contacted first and must have PostGIS.
func (e *Engine) LinkDatabase(ctx context.Context, storeID, dbURL string, opts dataset.Options) *dataset.Response {
	const op = "link_database"
	var o struct {
		Verify bool `mapstructure:"verify"`
	}
	if _, err := opts.Decode(op, &o, true); err != nil {
		return dataset.Fail(err)
	}
	p, err := db.ParseURL(dbURL)
	if err != nil {
		return dataset.Failf(dataset.KindInvalid, op, "%v", err)
	}
	if o.Verify {
		if err := e.verifyDatabase(ctx, dbURL); err != nil {
			return dataset.Fail(dataset.Errorf(dataset.KindInvalid, op, "database check failed: %w", err))
		}
	}
	return e.CreatePostGISStore(ctx, storeID, PostGISStore{
		Host:     p.Host,
		Port:     p.Port,
		Database: p.Database,
		User:     p.User,
		Password: p.Password,
	}, nil)
}

func (e *Engine) verifyDatabase(ctx context.Context, dbURL string) error {
	connStr, err := db.ConnectionString(dbURL)
	if err != nil {
		return err
	}
	conn, err := db.New(ctx, connStr, e.logger)
	if err != nil {
		return err
	}
	defer conn.Close()
	return db.NewVersionChecker(conn).RequirePostGIS(ctx)
}

// CreateCoverageStore creates an empty coverage store. GrassGrid stores are
// created as ArcGrid. An existing store is returned unchanged.
func (e *Engine) CreateCoverageStore(ctx context.Context, storeID, coverageType string, opts dataset.Options) *dataset.Response {
	const op = "create_coverage_store"
	if _, err := opts.Decode(op, &struct{}{}, true); err != nil {
		return dataset.Fail(err)
	}
	if !ValidCoverageType(coverageType) {
		return dataset.Failf(dataset.KindInvalid, op, "%q is not a valid coverage type", coverageType)
	}
	ws, name, err := e.resolve(ctx, storeID)
	if err != nil {
		return dataset.Fail(err)
	}
	if err := e.ensureWorkspace(ctx, op, ws); err != nil {
		return dataset.Fail(err)
	}
	if err := e.createCoverageStore(ctx, op, ws, name, coverageType); err != nil {
		return dataset.Fail(err)
	}
	return e.GetStore(ctx, JoinID(ws, name), nil)
}

func (e *Engine) createCoverageStore(ctx context.Context, op, ws, name, coverageType string) error {
	_, err := e.do(ctx, request{
		op:          op,
		method:      http.MethodPost,
		url:         e.restURL("workspaces", ws, "coveragestores"),
		contentType: "application/xml",
		body: coverageStoreXML{
			Name:      name,
			Type:      storeType(coverageType),
			Enabled:   true,
			Workspace: ws,
		},
	})
	switch {
	case err == nil:
		e.logger.Info("Coverage store created", "store", JoinID(ws, name), "type", coverageType)
	case dataset.IsAlreadyExists(err):
		e.logger.Debug("Store already exists", "store", JoinID(ws, name))
	default:
		return err
	}
	return nil
}

// DeleteStore deletes a data or coverage store. "purge" removes uploaded
// files and "recurse" removes the layers published from the store.
func (e *Engine) DeleteStore(ctx context.Context, storeID string, opts dataset.Options) *dataset.Response {
	const op = "delete_store"
	var o deleteOptions
	if _, err := opts.Decode(op, &o, true); err != nil {
		return dataset.Fail(err)
	}
	ws, name, err := e.resolve(ctx, storeID)
	if err != nil {
		return dataset.Fail(err)
	}
	_, collection, err := e.getStore(ctx, JoinID(ws, name))
	if err != nil {
		return dataset.Fail(err)
	}
	_, err = e.do(ctx, request{
		op:     op,
		method: http.MethodDelete,
		url:    e.restURL("workspaces", ws, collection, name),
		params: o.params(),
	})
	if err != nil {
		return dataset.Fail(err)
	}
	e.logger.Info("Store deleted", "store", JoinID(ws, name))
	return dataset.OK(nil)
}
