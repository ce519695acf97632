// Package transform turns a raw data point payload into its processed form.
package transform

import (
	"context"

	"github.com/relic-hub/relic/common/models"
)

// Transformer produces the processed payload for dp. It must not modify dp.
type Transformer interface {
	Transform(ctx context.Context, dp *models.DataPoint) (map[string]interface{}, error)
}

// Func adapts a function to Transformer.
type Func func(ctx context.Context, dp *models.DataPoint) (map[string]interface{}, error)

func (f Func) Transform(ctx context.Context, dp *models.DataPoint) (map[string]interface{}, error) {
	return f(ctx, dp)
}

// MarkerKey and MarkerValue form the placeholder engram payload.
const (
	MarkerKey   = "engram"
	MarkerValue = "engram"
)

// MarkerTransformer replaces every payload with {"engram": "engram"}. It
// stands in until real engram extraction exists.
type MarkerTransformer struct{}

func (MarkerTransformer) Transform(context.Context, *models.DataPoint) (map[string]interface{}, error) {
	return map[string]interface{}{MarkerKey: MarkerValue}, nil
}
