package calibration

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"headingup/internal/kv"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, Clamp(0))
	assert.Equal(t, 3, Clamp(2.6))
	assert.Equal(t, -3, Clamp(-2.6))
	assert.Equal(t, 45, Clamp(90))
	assert.Equal(t, -45, Clamp(-1000))
	assert.Equal(t, 0, Clamp(math.NaN()))
	assert.Equal(t, 0, Clamp(math.Inf(1)))
}

func TestOffset_LoadDefaultsAndCorrupt(t *testing.T) {
	mem := kv.NewMemory()
	o := New(mem, zerolog.Nop(), 0)
	assert.Equal(t, 0, o.Load())

	require.NoError(t, mem.Set(Key, "banana"))
	assert.Equal(t, 0, o.Load())

	require.NoError(t, mem.Set(Key, "12.7"))
	assert.Equal(t, 13, o.Load())

	require.NoError(t, mem.Set(Key, "-99"))
	assert.Equal(t, -45, o.Load())
}

func TestOffset_SetIsImmediateAndSaveIsDebounced(t *testing.T) {
	mem := kv.NewMemory()
	o := New(mem, zerolog.Nop(), 20*time.Millisecond)
	o.Load()

	for _, v := range []float64{1, 2, 3, 50} {
		o.Set(v)
	}
	assert.Equal(t, 45, o.Value())

	_, err := mem.Get(Key)
	assert.ErrorIs(t, err, kv.ErrNotFound, "save should wait for the quiet period")

	assert.Eventually(t, func() bool {
		v, err := mem.Get(Key)
		return err == nil && v == "45"
	}, time.Second, 5*time.Millisecond)
}

func TestOffset_Flush(t *testing.T) {
	mem := kv.NewMemory()
	o := New(mem, zerolog.Nop(), time.Hour)
	o.Set(-7)
	require.NoError(t, o.Flush())
	v, err := mem.Get(Key)
	require.NoError(t, err)
	assert.Equal(t, "-7", v)

	reloaded := New(mem, zerolog.Nop(), 0)
	assert.Equal(t, -7, reloaded.Load())
}

func TestOffset_NilSafe(t *testing.T) {
	var o *Offset
	assert.Equal(t, 0, o.Value())
	assert.Equal(t, 0, o.Set(5))
	assert.NoError(t, o.Flush())
}
