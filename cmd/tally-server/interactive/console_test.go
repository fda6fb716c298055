package interactive

import (
	"bytes"
	"testing"
	"time"

	"github.com/milux/ATEM-Tally/pkg/service"
	"github.com/milux/ATEM-Tally/pkg/switcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsole(t *testing.T, simulate bool) (*Console, *bytes.Buffer) {
	t.Helper()

	mem := switcher.NewMemory()
	sim, err := switcher.NewSimulator(mem, switcher.SimulatorConfig{Inputs: []int{1, 2, 3}, Interval: -1})
	require.NoError(t, err)

	config := service.DefaultConfig()
	config.ListenAddress = "127.0.0.1:0"
	config.SwitcherAddress = "127.0.0.1"
	svc, err := service.NewTallyService(mem, sim, config)
	require.NoError(t, err)

	opts := Options{}
	if simulate {
		opts.Simulator = sim
	}
	var out bytes.Buffer
	return newConsole(svc, opts, &out), &out
}

func TestConsoleBusCommands(t *testing.T) {
	c, out := newTestConsole(t, false)

	assert.True(t, c.Exec("program 3"))
	assert.True(t, c.Exec("PVW 2"))
	me, _ := c.mem().State().MixEffect(0)
	assert.Equal(t, 3, me.ProgramInput)
	assert.Equal(t, 2, me.PreviewInput)

	assert.True(t, c.Exec("cut"))
	me, _ = c.mem().State().MixEffect(0)
	assert.Equal(t, 2, me.ProgramInput)
	assert.Equal(t, 3, me.PreviewInput)
	assert.Empty(t, out.String())

	c.Exec("program x")
	assert.Contains(t, out.String(), "invalid input: x")
}

func TestConsoleKeyers(t *testing.T) {
	c, out := newTestConsole(t, false)

	c.Exec("usk 0 on 5")
	me, _ := c.mem().State().MixEffect(0)
	assert.Equal(t, switcher.UpstreamKeyer{FillSource: 5, CutSource: 5, OnAir: true}, me.UpstreamKeyers[0])

	c.Exec("usk 0 next on")
	me, _ = c.mem().State().MixEffect(0)
	assert.NotZero(t, me.TransitionSelection&switcher.SelectionKeyer(0))

	c.Exec("usk 0 next off")
	me, _ = c.mem().State().MixEffect(0)
	assert.Zero(t, me.TransitionSelection&switcher.SelectionKeyer(0))

	c.Exec("dsk 1 tie on")
	c.Exec("dsk 1 on 7")
	dsk := c.mem().State().DownstreamKeyers[1]
	assert.Equal(t, switcher.DownstreamKeyer{FillSource: 7, CutSource: 7, Tie: true, OnAir: true}, dsk)
	assert.Empty(t, out.String())

	c.Exec("usk 99 on")
	assert.Contains(t, out.String(), switcher.ErrOutOfRange.Error())

	out.Reset()
	c.Exec("dsk 0 maybe")
	assert.Contains(t, out.String(), "expected on or off")
}

func TestConsoleAuto(t *testing.T) {
	c, _ := newTestConsole(t, false)
	c.Exec("program 1")
	c.Exec("preview 2")

	c.Exec("auto 10")
	me, _ := c.mem().State().MixEffect(0)
	assert.True(t, me.InTransition)
	assert.NotZero(t, me.TransitionSelection&switcher.SelectionBackground)

	assert.Eventually(t, func() bool {
		me, _ := c.mem().State().MixEffect(0)
		return !me.InTransition && me.ProgramInput == 2 && me.PreviewInput == 1
	}, time.Second, 5*time.Millisecond)
}

func TestConsoleSimulationCommands(t *testing.T) {
	c, out := newTestConsole(t, false)
	c.Exec("step")
	assert.Contains(t, out.String(), "not in simulation mode")

	c, out = newTestConsole(t, true)
	c.Exec("step")
	assert.Empty(t, out.String())
}

func TestConsoleInspection(t *testing.T) {
	c, out := newTestConsole(t, false)

	c.Exec("status")
	assert.Contains(t, out.String(), "Switcher: DISCONNECTED")
	assert.Contains(t, out.String(), "waiting for switcher")

	out.Reset()
	c.Exec("inputs")
	assert.Contains(t, out.String(), "No inputs watched")

	out.Reset()
	c.Exec("clients")
	assert.Contains(t, out.String(), "No lamps connected")
}

func TestConsoleQuitAndUnknown(t *testing.T) {
	c, out := newTestConsole(t, false)

	assert.True(t, c.Exec(""))
	assert.True(t, c.Exec("bogus"))
	assert.Contains(t, out.String(), "Unknown command: bogus")
	assert.False(t, c.Exec("quit"))
	assert.False(t, c.Exec("exit"))
}
