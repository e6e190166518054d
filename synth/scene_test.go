package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_Deterministic(t *testing.T) {
	a := NewScene(7).Render(64, 48, Pose{Tx: 1.5})
	b := NewScene(7).Render(64, 48, Pose{Tx: 1.5})
	assert.Equal(t, a.Pix, b.Pix)

	c := NewScene(8).Render(64, 48, Pose{Tx: 1.5})
	assert.NotEqual(t, a.Pix, c.Pix)
}

func TestRender_IntegerShiftMovesContent(t *testing.T) {
	s := NewScene(3)
	base := s.Render(80, 60, Pose{})
	shifted := s.Render(80, 60, Pose{Tx: 5, Ty: -3})

	for y := 3; y < 57; y++ {
		for x := 0; x < 75; x++ {
			require.Equal(t, base.GrayAt(x, y), shifted.GrayAt(x+5, y-3), "pixel (%d,%d)", x, y)
		}
	}
}

func TestRender_HasTexture(t *testing.T) {
	img := NewScene(1).Render(120, 90, Pose{})
	minV, maxV := uint8(255), uint8(0)
	for _, v := range img.Pix {
		minV = min(minV, v)
		maxV = max(maxV, v)
	}
	assert.Greater(t, int(maxV)-int(minV), 80)
}

// ----------------------------------------------------------------------------
// Fixtures
// ----------------------------------------------------------------------------

func TestFlat(t *testing.T) {
	img := Flat(40, 30, 77)
	for _, v := range img.Pix {
		require.Equal(t, uint8(77), v)
	}
}

func TestVerticalEdge(t *testing.T) {
	img := VerticalEdge(40, 30)
	assert.Equal(t, uint8(30), img.GrayAt(0, 10).Y)
	assert.Equal(t, uint8(220), img.GrayAt(39, 10).Y)
	assert.Equal(t, img.GrayAt(5, 0), img.GrayAt(5, 29))
}

func TestDots_Count(t *testing.T) {
	img := Dots(320, 240, 500, 1)
	lit := 0
	for _, v := range img.Pix {
		if v == 255 {
			lit++
		}
	}
	assert.Equal(t, 500*9, lit)
}

func TestSequences(t *testing.T) {
	p := Pan(4, 2, -1)
	assert.Equal(t, Pose{Tx: 6, Ty: -3, Scale: 1}, p[3])

	o := Oscillate(3, 10)
	assert.Equal(t, 10.0, o[0].Tx)
	assert.Equal(t, -10.0, o[1].Tx)

	a := Shaky(20, 1, 4, 9)
	b := Shaky(20, 1, 4, 9)
	assert.Equal(t, a, b)
	for _, pose := range a {
		assert.LessOrEqual(t, pose.Ty, 4.0)
		assert.GreaterOrEqual(t, pose.Ty, -4.0)
	}
}
