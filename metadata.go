package icechunk

import (
	"encoding/json"

	"github.com/quantarax/icechunk/snapshot"
)

func synthesiseMetadata(node *snapshot.Node) ([]byte, error) {
	if node.Kind == snapshot.NodeKindGroup {
		doc := map[string]any{
			"zarr_format": 3,
			"node_type":   "group",
			"attributes":  orEmptyMap(node.UserAttributes),
		}
		return json.Marshal(doc)
	}

	if zf, ok := node.UserAttributes["zarr_format"]; ok {
		if isZarrFormat(zf, 2) || isZarrFormat(zf, 3) {
			return json.Marshal(node.UserAttributes)
		}
	}
	return json.Marshal(synthesiseV3ArrayDoc(node.Array.Metadata))
}

func isZarrFormat(v any, want float64) bool {
	f, ok := v.(float64)
	return ok && f == want
}

func synthesiseV3ArrayDoc(md snapshot.ZarrMetadata) map[string]any {
	var chunkKeyEncoding map[string]any
	switch md.ChunkKeyEncoding {
	case snapshot.ChunkKeyEncodingDot:
		chunkKeyEncoding = map[string]any{
			"name":          "v2",
			"configuration": map[string]any{"separator": "."},
		}
	default:
		chunkKeyEncoding = map[string]any{
			"name":          "default",
			"configuration": map[string]any{"separator": "/"},
		}
	}

	return map[string]any{
		"zarr_format": 3,
		"node_type":   "array",
		"shape":       md.Shape,
		"data_type":   md.DataType,
		"chunk_grid": map[string]any{
			"name":          "regular",
			"configuration": map[string]any{"chunk_shape": md.ChunkShape},
		},
		"chunk_key_encoding": chunkKeyEncoding,
		"fill_value":         md.FillValue,
		"codecs":             orEmptySlice(md.Codecs),
		"dimension_names":    md.DimensionNames,
		"attributes":         map[string]any{},
	}
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptySlice(s []any) []any {
	if s == nil {
		return []any{}
	}
	return s
}
