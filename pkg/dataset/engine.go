package dataset

import "context"

// Engine is implemented by every dataset service adapter. Operations never
// return Go errors: failures are reported through the Response envelope.
type Engine interface {
	Type() string
	Endpoint() string

	// Validate checks that the endpoint is reachable and speaks the
	// expected API.
	Validate(ctx context.Context) error

	SearchDatasets(ctx context.Context, query Query, opts Options) *Response
	SearchResources(ctx context.Context, query Query, opts Options) *Response
	ListDatasets(ctx context.Context, opts Options) *Response
	GetDataset(ctx context.Context, datasetID string, opts Options) *Response
	CreateDataset(ctx context.Context, name string, opts Options) *Response
	UpdateDataset(ctx context.Context, datasetID string, opts Options) *Response
	DeleteDataset(ctx context.Context, datasetID string, opts Options) *Response

	ListResources(ctx context.Context, datasetID string, opts Options) *Response
	GetResource(ctx context.Context, resourceID string, opts Options) *Response
	CreateResource(ctx context.Context, datasetID string, src Source, opts Options) *Response
	UpdateResource(ctx context.Context, resourceID string, src Source, opts Options) *Response
	DeleteResource(ctx context.Context, resourceID string, opts Options) *Response
}

// SpatialEngine is an Engine that also publishes map layers.
type SpatialEngine interface {
	Engine
	ListLayers(ctx context.Context, opts Options) *Response
	GetLayer(ctx context.Context, layerID string, opts Options) *Response
	DeleteLayer(ctx context.Context, layerID string, opts Options) *Response
}
