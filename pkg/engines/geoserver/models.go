package geoserver

import (
	"encoding/xml"
	"strconv"
)

// Coverage store types GeoServer can read.
const (
	CoverageAIG          = "AIG"
	CoverageArcGrid      = "ArcGrid"
	CoverageDTED         = "DTED"
	CoverageECW          = "ECW"
	CoverageEHdr         = "EHdr"
	CoverageENVIHdr      = "ENVIHdr"
	CoverageERDASImg     = "ERDASImg"
	CoverageGeoTIFF      = "GeoTIFF"
	CoverageGrassGrid    = "GrassGrid"
	CoverageGtopo30      = "Gtopo30"
	CoverageImageMosaic  = "ImageMosaic"
	CoverageImagePyramid = "ImagePyramid"
	CoverageJP2MrSID     = "JP2MrSID"
	CoverageMrSID        = "MrSID"
	CoverageNetCDF       = "NetCDF"
	CoverageNITF         = "NITF"
	CoverageRPFTOC       = "RPFTOC"
	CoverageRST          = "RST"
	CoverageWorldImage   = "WorldImage"
)

var validCoverageTypes = map[string]bool{
	CoverageAIG: true, CoverageArcGrid: true, CoverageDTED: true, CoverageECW: true,
	CoverageEHdr: true, CoverageENVIHdr: true, CoverageERDASImg: true, CoverageGeoTIFF: true,
	CoverageGrassGrid: true, CoverageGtopo30: true, CoverageImageMosaic: true,
	CoverageImagePyramid: true, CoverageJP2MrSID: true, CoverageMrSID: true,
	CoverageNetCDF: true, CoverageNITF: true, CoverageRPFTOC: true, CoverageRST: true,
	CoverageWorldImage: true,
}

// ValidCoverageType reports whether t names a supported coverage store type.
func ValidCoverageType(t string) bool {
	return validCoverageTypes[t]
}

// storeType maps a coverage type onto the store type GeoServer is given.
// GRASS grids are converted to ArcGrid before upload.
func storeType(coverageType string) string {
	if coverageType == CoverageGrassGrid {
		return CoverageArcGrid
	}
	return coverageType
}

type entry struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

type dataStoreXML struct {
	XMLName              xml.Name `xml:"dataStore"`
	Name                 string   `xml:"name"`
	ConnectionParameters []entry  `xml:"connectionParameters>entry"`
}

// PostGISStore holds the connection settings of a PostGIS data store.
type PostGISStore struct {
	Host                  string
	Port                  string
	Database              string
	User                  string
	Password              string
	MaxConnections        int
	MaxConnectionIdleTime int
	EvictorRunPeriodicity int
	ValidateConnections   bool
	ExposePrimaryKeys     bool
}

// withDefaults fills the pool settings GeoServer would otherwise leave
// unbounded.
func (p PostGISStore) withDefaults() PostGISStore {
	if p.Port == "" {
		p.Port = "5432"
	}
	if p.MaxConnections == 0 {
		p.MaxConnections = 5
	}
	if p.MaxConnectionIdleTime == 0 {
		p.MaxConnectionIdleTime = 30
	}
	if p.EvictorRunPeriodicity == 0 {
		p.EvictorRunPeriodicity = 30
	}
	return p
}

func (p PostGISStore) xml(name string) dataStoreXML {
	return dataStoreXML{
		Name: name,
		ConnectionParameters: []entry{
			{Key: "host", Value: p.Host},
			{Key: "port", Value: p.Port},
			{Key: "database", Value: p.Database},
			{Key: "user", Value: p.User},
			{Key: "passwd", Value: p.Password},
			{Key: "dbtype", Value: "postgis"},
			{Key: "max connections", Value: strconv.Itoa(p.MaxConnections)},
			{Key: "Max connection idle time", Value: strconv.Itoa(p.MaxConnectionIdleTime)},
			{Key: "Evictor run periodicity", Value: strconv.Itoa(p.EvictorRunPeriodicity)},
			{Key: "validate connections", Value: strconv.FormatBool(p.ValidateConnections)},
			{Key: "Expose primary keys", Value: strconv.FormatBool(p.ExposePrimaryKeys)},
		},
	}
}

type coverageStoreXML struct {
	XMLName   xml.Name `xml:"coverageStore"`
	Name      string   `xml:"name"`
	Type      string   `xml:"type"`
	Enabled   bool     `xml:"enabled"`
	Workspace string   `xml:"workspace>name"`
}

// SQLParameter is a parameter of a SQL view, substituted as %name% in the
// query.
type SQLParameter struct {
	Name            string `xml:"name" mapstructure:"name"`
	DefaultValue    string `xml:"defaultValue" mapstructure:"default_value"`
	RegexpValidator string `xml:"regexpValidator,omitempty" mapstructure:"regex_validator"`
}

type virtualTableXML struct {
	Name      string `xml:"name"`
	SQL       string `xml:"sql"`
	EscapeSQL bool   `xml:"escapeSql"`
	Geometry  struct {
		Name string `xml:"name"`
		Type string `xml:"type"`
		SRID int    `xml:"srid"`
	} `xml:"geometry"`
	Parameters []SQLParameter `xml:"parameter"`
}

type featureTypeXML struct {
	XMLName    xml.Name `xml:"featureType"`
	Name       string   `xml:"name"`
	NativeName string   `xml:"nativeName"`
	Title      string   `xml:"title,omitempty"`
	SRS        string   `xml:"srs,omitempty"`
	Enabled    bool     `xml:"enabled"`
	Metadata   *struct {
		Entry struct {
			Key          string          `xml:"key,attr"`
			VirtualTable virtualTableXML `xml:"virtualTable"`
		} `xml:"entry"`
	} `xml:"metadata,omitempty"`
}

type dimensionInfoXML struct {
	Enabled      bool     `xml:"enabled"`
	Presentation string   `xml:"presentation"`
	Units        string   `xml:"units"`
	DefaultValue struct{} `xml:"defaultValue"`
}

type coverageTimeXML struct {
	XMLName  xml.Name `xml:"coverage"`
	Enabled  bool     `xml:"enabled"`
	Metadata struct {
		Entry struct {
			Key           string           `xml:"key,attr"`
			DimensionInfo dimensionInfoXML `xml:"dimensionInfo"`
		} `xml:"entry"`
	} `xml:"metadata"`
}

// GeoWebCache documents.

type gwcLayerXML struct {
	XMLName        xml.Name `xml:"GeoServerLayer"`
	Enabled        bool     `xml:"enabled"`
	InMemoryCached bool     `xml:"inMemoryCached"`
	Name           string   `xml:"name"`
	MimeFormats    []string `xml:"mimeFormats>string"`
	GridSubsets    []struct {
		GridSetName string `xml:"gridSetName"`
	} `xml:"gridSubsets>gridSubset"`
	MetaWidthHeight []int `xml:"metaWidthHeight>int"`
	ExpireCache     int   `xml:"expireCache"`
	ExpireClients   int   `xml:"expireClients"`
	ParameterFilter struct {
		Key          string `xml:"key"`
		DefaultValue string `xml:"defaultValue"`
	} `xml:"parameterFilters>styleParameterFilter"`
	Gutter int `xml:"gutter"`
}

func newGWCLayer(layerID string) gwcLayerXML {
	l := gwcLayerXML{
		Enabled:         true,
		InMemoryCached:  true,
		Name:            layerID,
		MimeFormats:     []string{"image/png", "image/jpeg"},
		MetaWidthHeight: []int{4, 4},
	}
	for _, gs := range []string{"EPSG:900913", "EPSG:4326"} {
		l.GridSubsets = append(l.GridSubsets, struct {
			GridSetName string `xml:"gridSetName"`
		}{gs})
	}
	l.ParameterFilter.Key = "STYLES"
	return l
}

type seedRequestXML struct {
	XMLName xml.Name `xml:"seedRequest"`
	Name    string   `xml:"name"`
	Bounds  *struct {
		Coords []float64 `xml:"coords>double"`
	} `xml:"bounds,omitempty"`
	GridSetID   string  `xml:"gridSetId"`
	ZoomStart   int     `xml:"zoomStart"`
	ZoomStop    int     `xml:"zoomStop"`
	Format      string  `xml:"format"`
	Type        string  `xml:"type"`
	ThreadCount int     `xml:"threadCount"`
	Parameters  []entry `xml:"parameters>entry,omitempty"`
}

type truncateLayerXML struct {
	XMLName   xml.Name `xml:"truncateLayer"`
	LayerName string   `xml:"layerName"`
}
