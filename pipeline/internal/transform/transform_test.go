package transform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relic-hub/relic/common/models"
)

func TestMarkerTransformer(t *testing.T) {
	dp := models.NewDataPoint("sensorA", "temp", map[string]interface{}{"v": 42})

	out, err := MarkerTransformer{}.Transform(context.Background(), dp)
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{"engram": "engram"}, out)
	assert.Equal(t, map[string]interface{}{"v": 42}, dp.DataJSON, "source payload untouched")
}

func TestFunc(t *testing.T) {
	boom := errors.New("boom")
	var tr Transformer = Func(func(ctx context.Context, dp *models.DataPoint) (map[string]interface{}, error) {
		if dp.Collector == "bad" {
			return nil, boom
		}
		return map[string]interface{}{"collector": dp.Collector}, nil
	})

	out, err := tr.Transform(context.Background(), models.NewDataPoint("good", "s", nil))
	require.NoError(t, err)
	assert.Equal(t, "good", out["collector"])

	_, err = tr.Transform(context.Background(), models.NewDataPoint("bad", "s", nil))
	assert.ErrorIs(t, err, boom)
}
