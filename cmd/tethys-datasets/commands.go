package main

import (
	"context"
	"fmt"

	"github.com/tethys-dataset-services/pkg/dataset"
	"github.com/tethys-dataset-services/pkg/engines"
	"github.com/tethys-dataset-services/pkg/engines/geoserver"
	"github.com/urfave/cli"
)

var optFlag = cli.StringSliceFlag{
	Name:  "opt, o",
	Usage: "engine option as key=value; JSON objects and arrays are decoded (repeatable)",
}

var queryFlag = cli.StringSliceFlag{
	Name:  "query, q",
	Usage: "search term as field=value (repeatable)",
}

var sourceFlags = []cli.Flag{
	cli.StringFlag{Name: "url", Usage: "content URL"},
	cli.StringFlag{Name: "file", Usage: "path of a local file to upload"},
}

// engineAction is the body of a command run against the selected service.
type engineAction func(ctx context.Context, c *cli.Context, e dataset.Engine, opts dataset.Options) *dataset.Response

// withEngine builds the selected service's engine and prints the envelope
// returned by fn. nargs is the number of required positional arguments.
func withEngine(nargs int, fn engineAction) func(*cli.Context) error {
	return func(c *cli.Context) error {
		if c.NArg() < nargs {
			return fmt.Errorf("%s: expected %d argument(s), got %d", c.Command.Name, nargs, c.NArg())
		}
		opts, err := parseOptions(c.StringSlice("opt"))
		if err != nil {
			return err
		}
		e, err := openEngine(c)
		if err != nil {
			return err
		}
		return emit(c, fn(runContext(c), c, e, opts))
	}
}

var enginesCommand = cli.Command{
	Name:  "engines",
	Usage: "lists the supported engine names",
	Action: func(c *cli.Context) error {
		return emit(c, dataset.OK(engines.Names()))
	},
}

var validateCommand = cli.Command{
	Name:  "validate",
	Usage: "checks that the service endpoint and credentials work",
	Action: withEngine(0, func(ctx context.Context, c *cli.Context, e dataset.Engine, _ dataset.Options) *dataset.Response {
		if err := e.Validate(ctx); err != nil {
			return dataset.Fail(err)
		}
		return dataset.OK(map[string]interface{}{"engine": e.Type(), "endpoint": e.Endpoint()})
	}),
}

var listDatasetsCommand = cli.Command{
	Name:  "list-datasets",
	Usage: "lists datasets",
	Flags: []cli.Flag{optFlag},
	Action: withEngine(0, func(ctx context.Context, c *cli.Context, e dataset.Engine, opts dataset.Options) *dataset.Response {
		return e.ListDatasets(ctx, opts)
	}),
}

var getDatasetCommand = cli.Command{
	Name:      "get-dataset",
	Usage:     "shows one dataset",
	ArgsUsage: "<dataset-id>",
	Flags:     []cli.Flag{optFlag},
	Action: withEngine(1, func(ctx context.Context, c *cli.Context, e dataset.Engine, opts dataset.Options) *dataset.Response {
		return e.GetDataset(ctx, c.Args().First(), opts)
	}),
}

var createDatasetCommand = cli.Command{
	Name:      "create-dataset",
	Usage:     "creates a dataset",
	ArgsUsage: "<name>",
	Flags:     []cli.Flag{optFlag},
	Action: withEngine(1, func(ctx context.Context, c *cli.Context, e dataset.Engine, opts dataset.Options) *dataset.Response {
		return e.CreateDataset(ctx, c.Args().First(), opts)
	}),
}

var updateDatasetCommand = cli.Command{
	Name:      "update-dataset",
	Usage:     "updates dataset fields given as options",
	ArgsUsage: "<dataset-id>",
	Flags:     []cli.Flag{optFlag},
	Action: withEngine(1, func(ctx context.Context, c *cli.Context, e dataset.Engine, opts dataset.Options) *dataset.Response {
		return e.UpdateDataset(ctx, c.Args().First(), opts)
	}),
}

var deleteDatasetCommand = cli.Command{
	Name:      "delete-dataset",
	Usage:     "deletes a dataset",
	ArgsUsage: "<dataset-id>",
	Flags:     []cli.Flag{optFlag},
	Action: withEngine(1, func(ctx context.Context, c *cli.Context, e dataset.Engine, opts dataset.Options) *dataset.Response {
		return e.DeleteDataset(ctx, c.Args().First(), opts)
	}),
}

var searchDatasetsCommand = cli.Command{
	Name:  "search-datasets",
	Usage: "searches datasets by field terms",
	Flags: []cli.Flag{queryFlag, optFlag},
	Action: withEngine(0, func(ctx context.Context, c *cli.Context, e dataset.Engine, opts dataset.Options) *dataset.Response {
		q, err := parseQuery(c.StringSlice("query"))
		if err != nil {
			return dataset.Fail(err)
		}
		return e.SearchDatasets(ctx, q, opts)
	}),
}

var listResourcesCommand = cli.Command{
	Name:      "list-resources",
	Usage:     "lists the resources of a dataset",
	ArgsUsage: "<dataset-id>",
	Flags:     []cli.Flag{optFlag},
	Action: withEngine(1, func(ctx context.Context, c *cli.Context, e dataset.Engine, opts dataset.Options) *dataset.Response {
		return e.ListResources(ctx, c.Args().First(), opts)
	}),
}

var getResourceCommand = cli.Command{
	Name:      "get-resource",
	Usage:     "shows one resource",
	ArgsUsage: "<resource-id>",
	Flags:     []cli.Flag{optFlag},
	Action: withEngine(1, func(ctx context.Context, c *cli.Context, e dataset.Engine, opts dataset.Options) *dataset.Response {
		return e.GetResource(ctx, c.Args().First(), opts)
	}),
}

var createResourceCommand = cli.Command{
	Name:      "create-resource",
	Usage:     "adds a resource to a dataset from --url or --file",
	ArgsUsage: "<dataset-id>",
	Flags:     append([]cli.Flag{optFlag}, sourceFlags...),
	Action: withEngine(1, func(ctx context.Context, c *cli.Context, e dataset.Engine, opts dataset.Options) *dataset.Response {
		return e.CreateResource(ctx, c.Args().First(), source(c), opts)
	}),
}

var updateResourceCommand = cli.Command{
	Name:      "update-resource",
	Usage:     "updates a resource, optionally replacing its content",
	ArgsUsage: "<resource-id>",
	Flags:     append([]cli.Flag{optFlag}, sourceFlags...),
	Action: withEngine(1, func(ctx context.Context, c *cli.Context, e dataset.Engine, opts dataset.Options) *dataset.Response {
		return e.UpdateResource(ctx, c.Args().First(), source(c), opts)
	}),
}

var deleteResourceCommand = cli.Command{
	Name:      "delete-resource",
	Usage:     "deletes a resource",
	ArgsUsage: "<resource-id>",
	Flags:     []cli.Flag{optFlag},
	Action: withEngine(1, func(ctx context.Context, c *cli.Context, e dataset.Engine, opts dataset.Options) *dataset.Response {
		return e.DeleteResource(ctx, c.Args().First(), opts)
	}),
}

var searchResourcesCommand = cli.Command{
	Name:  "search-resources",
	Usage: "searches resources by field terms",
	Flags: []cli.Flag{queryFlag, optFlag},
	Action: withEngine(0, func(ctx context.Context, c *cli.Context, e dataset.Engine, opts dataset.Options) *dataset.Response {
		q, err := parseQuery(c.StringSlice("query"))
		if err != nil {
			return dataset.Fail(err)
		}
		return e.SearchResources(ctx, q, opts)
	}),
}

// downloader is implemented by engines that store file content.
type downloader interface {
	DownloadDataset(ctx context.Context, datasetID, destDir string) *dataset.Response
	DownloadResource(ctx context.Context, resourceID, destDir string) *dataset.Response
}

var downloadCommand = cli.Command{
	Name:      "download",
	Usage:     "downloads a resource, or a whole dataset with --dataset",
	ArgsUsage: "<id>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "dest, d", Usage: "destination directory", Value: "."},
		cli.BoolFlag{Name: "dataset", Usage: "download the whole dataset"},
	},
	Action: withEngine(1, func(ctx context.Context, c *cli.Context, e dataset.Engine, _ dataset.Options) *dataset.Response {
		d, ok := e.(downloader)
		if !ok {
			return dataset.Failf(dataset.KindInvalid, "download", "engine %s does not store files", e.Type())
		}
		if c.Bool("dataset") {
			return d.DownloadDataset(ctx, c.Args().First(), c.String("dest"))
		}
		return d.DownloadResource(ctx, c.Args().First(), c.String("dest"))
	}),
}

func spatial(e dataset.Engine, op string) (dataset.SpatialEngine, *dataset.Response) {
	se, ok := e.(dataset.SpatialEngine)
	if !ok {
		return nil, dataset.Failf(dataset.KindInvalid, op, "engine %s does not publish layers", e.Type())
	}
	return se, nil
}

var listLayersCommand = cli.Command{
	Name:  "list-layers",
	Usage: "lists map layers of a spatial service",
	Flags: []cli.Flag{optFlag},
	Action: withEngine(0, func(ctx context.Context, c *cli.Context, e dataset.Engine, opts dataset.Options) *dataset.Response {
		se, fail := spatial(e, "list_layers")
		if fail != nil {
			return fail
		}
		return se.ListLayers(ctx, opts)
	}),
}

var getLayerCommand = cli.Command{
	Name:      "get-layer",
	Usage:     "shows one map layer",
	ArgsUsage: "<layer-id>",
	Flags:     []cli.Flag{optFlag},
	Action: withEngine(1, func(ctx context.Context, c *cli.Context, e dataset.Engine, opts dataset.Options) *dataset.Response {
		se, fail := spatial(e, "get_layer")
		if fail != nil {
			return fail
		}
		return se.GetLayer(ctx, c.Args().First(), opts)
	}),
}

var deleteLayerCommand = cli.Command{
	Name:      "delete-layer",
	Usage:     "deletes a map layer",
	ArgsUsage: "<layer-id>",
	Flags:     []cli.Flag{optFlag},
	Action: withEngine(1, func(ctx context.Context, c *cli.Context, e dataset.Engine, opts dataset.Options) *dataset.Response {
		se, fail := spatial(e, "delete_layer")
		if fail != nil {
			return fail
		}
		return se.DeleteLayer(ctx, c.Args().First(), opts)
	}),
}

var reloadCommand = cli.Command{
	Name:  "reload",
	Usage: "reloads the GeoServer catalog on every node",
	Flags: []cli.Flag{
		cli.IntSliceFlag{Name: "port", Usage: "node port, overriding the configured ones (repeatable)"},
		cli.BoolFlag{Name: "gwc", Usage: "reload the GeoWebCache configuration instead"},
		cli.BoolFlag{Name: "public", Usage: "use the public endpoint"},
	},
	Action: withEngine(0, func(ctx context.Context, c *cli.Context, e dataset.Engine, _ dataset.Options) *dataset.Response {
		gs, ok := e.(*geoserver.Engine)
		if !ok {
			return dataset.Failf(dataset.KindInvalid, "reload", "engine %s cannot reload", e.Type())
		}
		o := geoserver.ReloadOptions{Public: c.Bool("public")}
		if ports := c.IntSlice("port"); len(ports) > 0 {
			o.Ports = ports
		}
		return gs.ReloadCatalog(ctx, o, c.Bool("gwc"))
	}),
}
