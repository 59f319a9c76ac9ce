package geoserver

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"text/template"

	"github.com/tethys-dataset-services/pkg/dataset"
)

const sldContentType = "application/vnd.ogc.sld+xml"

// stylePath returns the REST path of a style. Styles without a workspace
// prefix are global.
func stylePath(id string) (string, string, []string) {
	ws, name := SplitID(id)
	if ws == "" {
		return ws, name, []string{"styles", name}
	}
	return ws, name, []string{"workspaces", ws, "styles", name}
}

// ListStyles lists global styles, or the styles of a workspace.
func (e *Engine) ListStyles(ctx context.Context, workspace string, opts dataset.Options) *dataset.Response {
	var o listOptions
	if _, err := opts.Decode("list_styles", &o, true); err != nil {
		return dataset.Fail(err)
	}
	parts := []string{"styles"}
	if workspace != "" {
		parts = []string{"workspaces", workspace, "styles"}
	}
	res, err := e.list(ctx, "list_styles", "styles", "style", o.WithProperties, parts...)
	if err != nil {
		return dataset.Fail(err)
	}
	return dataset.OK(res)
}

func (e *Engine) GetStyle(ctx context.Context, styleID string, opts dataset.Options) *dataset.Response {
	_, name, parts := stylePath(styleID)
	if name == "" {
		return dataset.Failf(dataset.KindInvalid, "get_style", "invalid identifier %q", styleID)
	}
	style, err := e.getObject(ctx, "get_style", "style", parts...)
	if err != nil {
		return dataset.Fail(err)
	}
	return dataset.OK(style)
}

// RenderSLD reads an SLD document and, when data is non-nil, executes it as
// a text/template with data.
func RenderSLD(src dataset.Source, data map[string]interface{}) ([]byte, error) {
	raw, err := readSource(src)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return raw, nil
	}
	tmpl, err := template.New("sld").Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CreateStyle uploads an SLD as a style named by styleID. An existing style
// is an already_exists failure unless "overwrite" is set, in which case it
// is purged first. A style still referenced by layers cannot be replaced.
func (e *Engine) CreateStyle(ctx context.Context, styleID string, sld dataset.Source, data map[string]interface{}, opts dataset.Options) *dataset.Response {
	const op = "create_style"
	var o struct {
		Overwrite bool `mapstructure:"overwrite"`
	}
	if _, err := opts.Decode(op, &o, true); err != nil {
		return dataset.Fail(err)
	}
	if sld.URL != "" {
		return dataset.Failf(dataset.KindInvalid, op, "styles are created from local SLD files")
	}
	if err := sld.Check(op, true); err != nil {
		return dataset.Fail(err)
	}
	ws, name, parts := stylePath(styleID)
	if name == "" {
		return dataset.Failf(dataset.KindInvalid, op, "invalid identifier %q", styleID)
	}
	body, err := RenderSLD(sld, data)
	if err != nil {
		return dataset.Failf(dataset.KindInvalid, op, "rendering SLD: %v", err)
	}
	if ws != "" {
		if err := e.ensureWorkspace(ctx, op, ws); err != nil {
			return dataset.Fail(err)
		}
	}

	if o.Overwrite {
		if err := e.deleteStyle(ctx, op, parts, true); err != nil {
			if strings.Contains(err.Error(), "referenced by existing") {
				return dataset.Fail(err)
			}
			if !dataset.IsNotFound(err) {
				e.logger.Warn("Could not remove style before overwrite", "style", styleID, "error", err)
			}
		}
	}

	_, err = e.do(ctx, request{
		op:          op,
		method:      http.MethodPost,
		url:         e.restURL(parts[:len(parts)-1]...),
		contentType: sldContentType,
		params:      map[string]string{"name": name},
		body:        body,
	})
	if err != nil {
		var de *dataset.Error
		if errors.As(err, &de) && de.Status == http.StatusInternalServerError &&
			(strings.Contains(de.Message, "Unable to find style for event") || strings.Contains(de.Message, "Error persisting")) {
			e.logger.Warn("Style created with warnings", "style", styleID, "warning", de.Message)
			return dataset.OK("created style " + name + " with warnings: " + de.Message)
		}
		return dataset.Fail(err)
	}
	e.logger.Info("Style created", "style", styleID)
	return e.GetStyle(ctx, styleID, nil)
}

// DeleteStyle deletes a style. "purge" also removes the SLD file.
func (e *Engine) DeleteStyle(ctx context.Context, styleID string, opts dataset.Options) *dataset.Response {
	const op = "delete_style"
	var o struct {
		Purge bool `mapstructure:"purge"`
	}
	if _, err := opts.Decode(op, &o, true); err != nil {
		return dataset.Fail(err)
	}
	_, name, parts := stylePath(styleID)
	if name == "" {
		return dataset.Failf(dataset.KindInvalid, op, "invalid identifier %q", styleID)
	}
	if err := e.deleteStyle(ctx, op, parts, o.Purge); err != nil {
		return dataset.Fail(err)
	}
	e.logger.Info("Style deleted", "style", styleID)
	return dataset.OK(nil)
}

func (e *Engine) deleteStyle(ctx context.Context, op string, parts []string, purge bool) error {
	_, err := e.do(ctx, request{
		op:     op,
		method: http.MethodDelete,
		url:    e.restURL(parts...),
		params: map[string]string{"purge": strconv.FormatBool(purge)},
	})
	return err
}
