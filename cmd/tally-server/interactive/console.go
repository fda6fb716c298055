// Package interactive provides the interactive console of tally-server.
//
// Besides inspecting lamps and inputs, the console drives the in-memory
// switcher state directly, which is mostly useful together with -simulate.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/milux/ATEM-Tally/pkg/service"
	"github.com/milux/ATEM-Tally/pkg/switcher"
)

// DefaultAutoDuration is the length of an auto transition.
const DefaultAutoDuration = time.Second

// Options configures the console.
type Options struct {
	// MixEffect is the ME the bus commands act on.
	MixEffect int

	// Simulator enables the step and drop commands.
	Simulator *switcher.Simulator
}

// Console handles interactive mode for tally-server.
type Console struct {
	svc  *service.TallyService
	opts Options
	rl   *readline.Instance
	out  io.Writer

	autoMu    sync.Mutex
	autoTimer *time.Timer
}

// New creates a console reading from the terminal.
func New(svc *service.TallyService, opts Options) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "tally> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := newConsole(svc, opts, rl.Stdout())
	c.rl = rl
	return c, nil
}

func newConsole(svc *service.TallyService, opts Options, out io.Writer) *Console {
	return &Console{svc: svc, opts: opts, out: out}
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()
	defer c.stopAuto()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if !c.Exec(line) {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Exec runs one command line. It returns false when the console should
// exit.
func (c *Console) Exec(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()

	case "status", "s":
		c.cmdStatus()

	case "inputs", "i":
		c.cmdInputs()

	case "clients", "lamps", "c":
		c.cmdClients()

	case "program", "pgm":
		err = c.cmdBus(args, c.mem().SetProgramInput)

	case "preview", "pvw":
		err = c.cmdBus(args, c.mem().SetPreviewInput)

	case "cut":
		err = c.mem().Cut(c.opts.MixEffect)

	case "auto":
		err = c.cmdAuto(args)

	case "usk":
		err = c.cmdUsk(args)

	case "dsk":
		err = c.cmdDsk(args)

	case "step":
		err = c.cmdStep()

	case "drop":
		err = c.cmdDrop()

	case "quit", "exit", "q":
		return false

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}

	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
	return true
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Tally Server Commands:
  Inspection:
    status               - Show service, switcher link and listener state
    inputs               - List watched inputs with state and reasons
    clients              - List connected lamps

  Switcher:
    program <input>      - Put an input on the program bus
    preview <input>      - Put an input on the preview bus
    cut                  - Swap program and preview
    auto [ms]            - Run a background transition (default 1000ms)
    usk <n> on|off [in]  - Take upstream keyer n on or off air
    usk <n> next on|off  - Select keyer n for the next transition
    dsk <n> on|off [in]  - Take downstream keyer n on or off air
    dsk <n> tie on|off   - Tie downstream keyer n to the next transition

  Simulation:
    step                 - Play the next simulated scene
    drop                 - Simulate losing the switcher

  General:
    help                 - Show this help
    quit                 - Exit server`)
}

func (c *Console) mem() *switcher.Memory {
	return c.svc.Switcher()
}

func (c *Console) cmdStatus() {
	link := c.svc.Link()
	fmt.Fprintf(c.out, "Service:  %s\n", c.svc.State())
	fmt.Fprintf(c.out, "Switcher: %s", link.State())
	if addr := link.RemoteAddress(); addr != "" {
		fmt.Fprintf(c.out, " (%s)", addr)
	}
	fmt.Fprintln(c.out)
	if addr := c.svc.Addr(); addr != nil {
		fmt.Fprintf(c.out, "Listen:   %s\n", addr)
	} else {
		fmt.Fprintln(c.out, "Listen:   waiting for switcher")
	}
	fmt.Fprintf(c.out, "Lamps:    %d\n", c.svc.Server().ConnectionCount())

	me, ok := c.mem().State().MixEffect(c.opts.MixEffect)
	if !ok {
		fmt.Fprintf(c.out, "ME %d:     not present\n", c.opts.MixEffect)
		return
	}
	fmt.Fprintf(c.out, "ME %d:     program %d, preview %d", c.opts.MixEffect, me.ProgramInput, me.PreviewInput)
	if me.InTransition {
		fmt.Fprint(c.out, ", in transition")
	}
	fmt.Fprintln(c.out)
}

func (c *Console) cmdInputs() {
	inputs := c.svc.Registry().Snapshot()
	if len(inputs) == 0 {
		fmt.Fprintln(c.out, "No inputs watched")
		return
	}
	fmt.Fprintf(c.out, "%-6s %-16s %-5s %s\n", "INPUT", "STATE", "LAMPS", "REASONS")
	for _, in := range inputs {
		var reasons []string
		for _, r := range in.ProgramReasons {
			reasons = append(reasons, "pgm:"+r)
		}
		for _, r := range in.PreviewReasons {
			reasons = append(reasons, "pvw:"+r)
		}
		fmt.Fprintf(c.out, "%-6d %-16s %-5d %s\n", in.Input, in.State, in.Subscribers, strings.Join(reasons, " "))
	}
}

func (c *Console) cmdClients() {
	conns := c.svc.Server().Connections()
	if len(conns) == 0 {
		fmt.Fprintln(c.out, "No lamps connected")
		return
	}
	for _, conn := range conns {
		fmt.Fprintf(c.out, "%s  %-21s %-10s %-8s inputs=%v since %s\n",
			shortID(conn.ConnID), conn.RemoteAddr, conn.State, conn.Format,
			conn.Inputs, conn.Since.Format(time.TimeOnly))
	}
}

func (c *Console) cmdBus(args []string, set func(me, input int) error) error {
	if len(args) != 1 {
		return errors.New("usage: program|preview <input>")
	}
	input, err := parseInput(args[0])
	if err != nil {
		return err
	}
	return set(c.opts.MixEffect, input)
}

// cmdAuto starts a background transition and completes it after the given
// duration.
func (c *Console) cmdAuto(args []string) error {
	duration := DefaultAutoDuration
	if len(args) > 0 {
		ms, err := strconv.Atoi(args[0])
		if err != nil || ms < 0 {
			return fmt.Errorf("invalid duration: %s", args[0])
		}
		duration = time.Duration(ms) * time.Millisecond
	}

	mem, me := c.mem(), c.opts.MixEffect
	x, ok := mem.State().MixEffect(me)
	if !ok {
		return switcher.ErrOutOfRange
	}
	if x.InTransition {
		return errors.New("transition already running")
	}
	if err := mem.SetTransitionSelection(me, x.TransitionSelection|switcher.SelectionBackground); err != nil {
		return err
	}
	if err := mem.SetInTransition(me, true); err != nil {
		return err
	}

	c.autoMu.Lock()
	c.autoTimer = time.AfterFunc(duration, func() {
		if err := c.finishAuto(); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	})
	c.autoMu.Unlock()
	return nil
}

func (c *Console) finishAuto() error {
	mem, me := c.mem(), c.opts.MixEffect
	if err := mem.Cut(me); err != nil {
		return err
	}
	return mem.SetInTransition(me, false)
}

func (c *Console) stopAuto() {
	c.autoMu.Lock()
	defer c.autoMu.Unlock()
	if c.autoTimer != nil {
		c.autoTimer.Stop()
	}
}

func (c *Console) cmdUsk(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: usk <n> on|off [input] | usk <n> next on|off")
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid keyer: %s", args[0])
	}
	mem, me := c.mem(), c.opts.MixEffect

	if strings.ToLower(args[1]) == "next" {
		if len(args) != 3 {
			return errors.New("usage: usk <n> next on|off")
		}
		on, err := parseOnOff(args[2])
		if err != nil {
			return err
		}
		x, ok := mem.State().MixEffect(me)
		if !ok {
			return switcher.ErrOutOfRange
		}
		if index < 0 || index >= len(x.UpstreamKeyers) {
			return switcher.ErrOutOfRange
		}
		selection := x.TransitionSelection &^ switcher.SelectionKeyer(index)
		if on {
			selection |= switcher.SelectionKeyer(index)
		}
		return mem.SetTransitionSelection(me, selection)
	}

	on, err := parseOnOff(args[1])
	if err != nil {
		return err
	}
	source := -1
	if len(args) > 2 {
		if source, err = parseInput(args[2]); err != nil {
			return err
		}
	}
	return mem.UpdateUpstreamKeyer(me, index, func(k *switcher.UpstreamKeyer) {
		if source >= 0 {
			k.FillSource = source
			k.CutSource = source
		}
		k.OnAir = on
	})
}

func (c *Console) cmdDsk(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: dsk <n> on|off [input] | dsk <n> tie on|off")
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid keyer: %s", args[0])
	}

	if strings.ToLower(args[1]) == "tie" {
		if len(args) != 3 {
			return errors.New("usage: dsk <n> tie on|off")
		}
		tie, err := parseOnOff(args[2])
		if err != nil {
			return err
		}
		return c.mem().UpdateDownstreamKeyer(index, func(k *switcher.DownstreamKeyer) { k.Tie = tie })
	}

	on, err := parseOnOff(args[1])
	if err != nil {
		return err
	}
	source := -1
	if len(args) > 2 {
		if source, err = parseInput(args[2]); err != nil {
			return err
		}
	}
	return c.mem().UpdateDownstreamKeyer(index, func(k *switcher.DownstreamKeyer) {
		if source >= 0 {
			k.FillSource = source
			k.CutSource = source
		}
		k.OnAir = on
	})
}

func (c *Console) cmdStep() error {
	if c.opts.Simulator == nil {
		return errors.New("not in simulation mode")
	}
	return c.opts.Simulator.Step()
}

func (c *Console) cmdDrop() error {
	if c.opts.Simulator == nil {
		return errors.New("not in simulation mode")
	}
	c.opts.Simulator.Drop()
	fmt.Fprintln(c.out, "Switcher dropped, the link will reconnect")
	return nil
}

func parseInput(s string) (int, error) {
	input, err := strconv.Atoi(s)
	if err != nil || input < 0 || input > 0xFFFF {
		return 0, fmt.Errorf("invalid input: %s", s)
	}
	return input, nil
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %s", s)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
