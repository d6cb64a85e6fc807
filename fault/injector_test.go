package fault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoLossByDefault(t *testing.T) {
	inj := New()
	for i := 0; i < 100; i++ {
		dropped, _ := inj.Evaluate()
		assert.False(t, dropped)
	}
	assert.Equal(t, int64(0), inj.DropCount())
}

func TestFullLossDropsEveryFrame(t *testing.T) {
	inj := New()
	inj.Configure(1.0, 0)
	for i := 0; i < 20; i++ {
		dropped, _ := inj.Evaluate()
		assert.True(t, dropped)
	}
	assert.Equal(t, int64(20), inj.DropCount())
}

func TestConfigureClampsOutOfRangeValues(t *testing.T) {
	inj := New()
	inj.Configure(-1, -time.Second)
	assert.Equal(t, 0.0, inj.LossRate())
	assert.Equal(t, time.Duration(0), inj.Delay())

	inj.Configure(5, time.Second)
	assert.Equal(t, 1.0, inj.LossRate())
	assert.Equal(t, time.Second, inj.Delay())
}

func TestDelayIsReturnedNotSlept(t *testing.T) {
	inj := New()
	inj.Configure(0, 50*time.Millisecond)
	dropped, delay := inj.Evaluate()
	assert.False(t, dropped)
	assert.Equal(t, 50*time.Millisecond, delay)
}
