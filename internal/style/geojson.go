package style

import (
	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"
)

type goccyCodec struct{}

func (goccyCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (goccyCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func init() {
	geojson.CustomJSONMarshaler = goccyCodec{}
	geojson.CustomJSONUnmarshaler = goccyCodec{}
}

// EncodeGeoJSON serializes source data. A nil collection encodes as an empty one.
func EncodeGeoJSON(fc *geojson.FeatureCollection) ([]byte, error) {
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}
	raw, err := fc.MarshalJSON()
	if err != nil {
		return nil, &TypeConversionError{Target: "GeoJSON", Err: err}
	}
	return raw, nil
}

// DecodeGeoJSON parses a FeatureCollection.
func DecodeGeoJSON(raw []byte) (*geojson.FeatureCollection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, &TypeConversionError{Target: "FeatureCollection", Err: err}
	}
	return fc, nil
}
