package opt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOption(t *testing.T) {
	t.Run("some empty string is still present", func(t *testing.T) {
		o := Some("")
		v, ok := o.Get()
		assert.True(t, ok)
		assert.Equal(t, "", v)
	})

	t.Run("none is absent", func(t *testing.T) {
		o := None[string]()
		assert.False(t, o.IsSome())
		assert.Equal(t, "fallback", o.OrElse("fallback"))
	})

	t.Run("from pointer", func(t *testing.T) {
		v := 1.5
		assert.True(t, FromPtr(&v).IsSome())
		assert.False(t, FromPtr[float64](nil).IsSome())
	})

	t.Run("json null round trip", func(t *testing.T) {
		type payload struct {
			Event Option[string] `json:"event"`
		}
		data, err := json.Marshal(payload{})
		require.NoError(t, err)
		assert.JSONEq(t, `{"event":null}`, string(data))

		var p payload
		require.NoError(t, json.Unmarshal([]byte(`{"event":"diwali"}`), &p))
		v, ok := p.Event.Get()
		assert.True(t, ok)
		assert.Equal(t, "diwali", v)
	})
}
