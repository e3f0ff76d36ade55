// Package interactive provides the operator console for colonygrid.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	humanize "github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/ohowland/colony_grid/internal/pkg/asset"
	"github.com/ohowland/colony_grid/internal/pkg/asset/ess"
	"github.com/ohowland/colony_grid/internal/pkg/asset/meter"
	"github.com/ohowland/colony_grid/internal/pkg/asset/pv"
	"github.com/ohowland/colony_grid/internal/pkg/asset/rtg"
	"github.com/ohowland/colony_grid/internal/pkg/power"
	"github.com/ohowland/colony_grid/internal/pkg/root"
)

const commandTimeout = 5 * time.Second

// System is the part of root.System the console drives.
type System interface {
	Snapshot() root.Snapshot
	Step(ctx context.Context) ([]power.Status, error)
	Link(ctx context.Context, a, b string) error
	Unlink(ctx context.Context, name string) error
	Switch(ctx context.Context, name string, on bool) error
	AddDevice(ctx context.Context, kind string, jsonConfig []byte) (asset.Status, error)
	RemoveDevice(ctx context.Context, name string) error
}

// Console reads commands from a terminal and applies them to the colony.
type Console struct {
	system System
	rl     *readline.Instance
	out    io.Writer
}

// New creates a console on the process terminal.
func New(system System) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "colony> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("help"),
			readline.PcItem("status"),
			readline.PcItem("devices"),
			readline.PcItem("step"),
			readline.PcItem("link"),
			readline.PcItem("unlink"),
			readline.PcItem("on"),
			readline.PcItem("off"),
			readline.PcItem("add"),
			readline.PcItem("remove"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{system: system, rl: rl, out: rl.Stdout()}, nil
}

// Stdout returns a writer that coordinates with the prompt, for log output.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run reads commands until quit, EOF, or ctx is done. cancel is called on exit.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()
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
		if quit := c.Execute(ctx, line); quit {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the console should exit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()
	case "status", "s":
		c.cmdStatus()
	case "devices", "d":
		c.cmdDevices()
	case "step":
		err = c.cmdStep(ctx, args)
	case "link", "l":
		err = c.cmdLink(ctx, args)
	case "unlink", "u":
		err = c.cmdUnlink(ctx, args)
	case "on", "off":
		err = c.cmdSwitch(ctx, args, cmd == "on")
	case "add":
		err = c.cmdAdd(ctx, line)
	case "remove", "rm":
		err = c.cmdRemove(ctx, args)
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Colony Grid Commands:
  Inspection:
    status               - Show every network
    devices              - Show every device

  Wiring:
    link <a> <b>         - Connect two devices
    unlink <name>        - Disconnect a device from its network
    on <name>            - Switch a load on
    off <name>           - Switch a load off
    add <kind> <json>    - Build a device, e.g. add load {"Name":"lamp","Draw":10,"On":true}
    remove <name>        - Disconnect and forget a device

  Simulation:
    step [n]             - Run n ticks now (default 1)

  General:
    help                 - Show this help
    quit                 - Exit`)
}

func energy(v float64) string {
	return humanize.FormatFloat("#,###.##", v)
}

func (c *Console) cmdStatus() {
	snap := c.system.Snapshot()
	fmt.Fprintf(c.out, "\nTick %s, %d networks\n", humanize.Comma(int64(snap.Tick)), len(snap.Networks))
	fmt.Fprintln(c.out, "-------------------------------------------")
	for _, n := range snap.Networks {
		fmt.Fprintf(c.out, "  %s  %-15v capacity %s  load %s  reserve %s",
			n.PID.String()[:8], n.Mode, energy(n.Capacity), energy(n.Load), energy(n.Reserve))
		if n.Shed > 0 {
			fmt.Fprintf(c.out, "  shed %d", n.Shed)
		}
		fmt.Fprintln(c.out)
		fmt.Fprintf(c.out, "    members: %s\n", strings.Join(n.Members, ", "))
	}
	fmt.Fprintln(c.out)
}

func (c *Console) cmdDevices() {
	snap := c.system.Snapshot()
	fmt.Fprintln(c.out, "\nDevices")
	fmt.Fprintln(c.out, "-------------------------------------------")
	for _, d := range snap.Devices {
		network := "-"
		if d.Network != uuid.Nil {
			network = d.Network.String()[:8]
		}
		fmt.Fprintf(c.out, "  %-12s %-8s net %-8s", d.Name, d.Kind, network)
		switch d.Kind {
		case pv.Kind:
			fmt.Fprintf(c.out, "  generation %s", energy(d.Generation))
			if d.Sunrise != nil && d.Sunset != nil {
				fmt.Fprintf(c.out, " daylight %s-%s", d.Sunrise.Format("15:04"), d.Sunset.Format("15:04"))
			}
		case rtg.Kind, meter.Kind:
			fmt.Fprintf(c.out, "  generation %s", energy(d.Generation))
		case ess.BatteryKind:
			fmt.Fprintf(c.out, "  stored %s/%s", energy(d.Stored), energy(d.Capacity))
		case ess.ChargerKind:
			fmt.Fprintf(c.out, "  draw %s on %v powered %v stored %s/%s",
				energy(d.Draw), d.On, d.Powered, energy(d.Stored), energy(d.Capacity))
		default:
			fmt.Fprintf(c.out, "  draw %s on %v powered %v", energy(d.Draw), d.On, d.Powered)
		}
		fmt.Fprintln(c.out)
	}
	fmt.Fprintln(c.out)
}

func (c *Console) cmdStep(ctx context.Context, args []string) error {
	n := 1
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			return fmt.Errorf("invalid tick count %q", args[0])
		}
		n = v
	}
	var statuses []power.Status
	for i := 0; i < n; i++ {
		var err error
		statuses, err = c.system.Step(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			if s.Changed() {
				fmt.Fprintf(c.out, "  %s  %v -> %v (tick %d)\n", s.PID.String()[:8], s.Previous, s.Mode, s.Tick)
			}
		}
	}
	fmt.Fprintf(c.out, "Stepped %d tick(s), %d network(s)\n", n, len(statuses))
	return nil
}

func (c *Console) cmdLink(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: link <a> <b>")
	}
	if err := c.system.Link(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Linked %s and %s\n", args[0], args[1])
	return nil
}

func (c *Console) cmdUnlink(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: unlink <name>")
	}
	if err := c.system.Unlink(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Unlinked %s\n", args[0])
	return nil
}

func (c *Console) cmdSwitch(ctx context.Context, args []string, on bool) error {
	if len(args) != 1 {
		return errors.New("usage: on|off <name>")
	}
	if err := c.system.Switch(ctx, args[0], on); err != nil {
		return err
	}
	state := "off"
	if on {
		state = "on"
	}
	fmt.Fprintf(c.out, "Switched %s %s\n", args[0], state)
	return nil
}

// cmdAdd takes the raw line so the JSON configuration may contain spaces.
func (c *Console) cmdAdd(ctx context.Context, line string) error {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(fields) != 3 {
		return errors.New("usage: add <kind> <json>")
	}
	status, err := c.system.AddDevice(ctx, fields[1], []byte(strings.TrimSpace(fields[2])))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Added %s (%s)\n", status.Name, status.Kind)
	return nil
}

func (c *Console) cmdRemove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: remove <name>")
	}
	if err := c.system.RemoveDevice(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Removed %s\n", args[0])
	return nil
}
