package indicator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSMA(t *testing.T) {
	t.Run("warm-up", func(t *testing.T) {
		m := NewSMA[int64](4)
		require.Equal(t, int64(10), m.Update(10))
		require.Equal(t, int64(15), m.Update(20))
		require.False(t, m.Valid())
	})

	t.Run("window", func(t *testing.T) {
		m := NewSMA[int64](2)
		m.Update(100)
		m.Update(200)
		require.True(t, m.Valid())
		require.Equal(t, int64(250), m.Update(300))
		require.Equal(t, int64(350), m.Update(400))
	})
}

func TestNew(t *testing.T) {
	require.IsType(t, &SMA[int64]{}, New[int64](TypeSMA, 4))
	require.IsType(t, &MAMA[int64]{}, New[int64](TypeMAMA, 4))
	require.IsType(t, &SMA[int64]{}, New[int64](UndefinedType, 4))

	typ, err := ParseType("mama")
	require.NoError(t, err)
	require.Equal(t, TypeMAMA, typ)
	_, err = ParseType("ema")
	require.Error(t, err)
}
