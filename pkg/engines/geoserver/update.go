package geoserver

import (
	"context"
	"fmt"
	"net/http"

	"dario.cat/mergo"
)

// update reads a catalog object, merges changes over it and writes the
// merged object back. Nested objects are merged key by key.
func (e *Engine) update(ctx context.Context, op, root string, changes map[string]interface{}, parts ...string) (map[string]interface{}, error) {
	current, err := e.getObject(ctx, op, root, parts...)
	if err != nil {
		return nil, err
	}
	if err := mergo.Merge(&current, changes, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merging %s changes: %w", root, err)
	}
	_, err = e.do(ctx, request{
		op:          op,
		method:      http.MethodPut,
		url:         e.restURL(parts...),
		contentType: "application/json",
		body:        map[string]interface{}{root: current},
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("Catalog object updated", "op", op, "object", root)
	return current, nil
}
