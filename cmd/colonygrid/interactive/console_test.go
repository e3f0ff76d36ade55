package interactive

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/ohowland/colony_grid/internal/pkg/asset"
	"github.com/ohowland/colony_grid/internal/pkg/power"
	"github.com/ohowland/colony_grid/internal/pkg/root"
)

type fakeSystem struct {
	snapshot root.Snapshot
	calls    []string
	steps    int
	err      error
}

func (f *fakeSystem) Snapshot() root.Snapshot { return f.snapshot }

func (f *fakeSystem) Step(context.Context) ([]power.Status, error) {
	f.steps++
	if f.err != nil {
		return nil, f.err
	}
	mode := power.Nominal
	if f.steps == 2 {
		mode = power.BatteryDrain
	}
	previous := power.Nominal
	if f.steps == 1 {
		previous = power.Unknown
	}
	return []power.Status{{PID: uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"), Tick: uint64(f.steps), Mode: mode, Previous: previous}}, nil
}

func (f *fakeSystem) Link(_ context.Context, a, b string) error {
	f.calls = append(f.calls, fmt.Sprintf("link %s %s", a, b))
	return f.err
}

func (f *fakeSystem) Unlink(_ context.Context, name string) error {
	f.calls = append(f.calls, "unlink "+name)
	return f.err
}

func (f *fakeSystem) Switch(_ context.Context, name string, on bool) error {
	f.calls = append(f.calls, fmt.Sprintf("switch %s %v", name, on))
	return f.err
}

func (f *fakeSystem) AddDevice(_ context.Context, kind string, cfg []byte) (asset.Status, error) {
	f.calls = append(f.calls, fmt.Sprintf("add %s %s", kind, cfg))
	return asset.Status{Name: "lamp", Kind: kind}, f.err
}

func (f *fakeSystem) RemoveDevice(_ context.Context, name string) error {
	f.calls = append(f.calls, "remove "+name)
	return f.err
}

func newConsole(sys System) (*Console, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return &Console{system: sys, out: buf}, buf
}

func TestWiringCommands(t *testing.T) {
	sys := &fakeSystem{}
	c, out := newConsole(sys)
	ctx := context.Background()

	assert.Assert(t, !c.Execute(ctx, "link rtg hab"))
	assert.Assert(t, !c.Execute(ctx, "  unlink   hab "))
	assert.Assert(t, !c.Execute(ctx, "on lamp"))
	assert.Assert(t, !c.Execute(ctx, "OFF lamp"))
	assert.Assert(t, !c.Execute(ctx, "rm lamp"))

	assert.DeepEqual(t, sys.calls, []string{
		"link rtg hab",
		"unlink hab",
		"switch lamp true",
		"switch lamp false",
		"remove lamp",
	})
	assert.Assert(t, is.Contains(out.String(), "Linked rtg and hab"))
	assert.Assert(t, is.Contains(out.String(), "Switched lamp off"))
}

func TestAddKeepsJSONSpaces(t *testing.T) {
	sys := &fakeSystem{}
	c, out := newConsole(sys)

	c.Execute(context.Background(), `add load {"Name": "lamp", "Draw": 10}`)
	assert.DeepEqual(t, sys.calls, []string{`add load {"Name": "lamp", "Draw": 10}`})
	assert.Assert(t, is.Contains(out.String(), "Added lamp (load)"))
}

func TestUsageErrors(t *testing.T) {
	sys := &fakeSystem{}
	c, out := newConsole(sys)
	ctx := context.Background()

	c.Execute(ctx, "link rtg")
	c.Execute(ctx, "step zero")
	c.Execute(ctx, "add load")
	c.Execute(ctx, "launch")

	assert.Equal(t, len(sys.calls), 0)
	assert.Assert(t, is.Contains(out.String(), "usage: link <a> <b>"))
	assert.Assert(t, is.Contains(out.String(), `invalid tick count "zero"`))
	assert.Assert(t, is.Contains(out.String(), "usage: add <kind> <json>"))
	assert.Assert(t, is.Contains(out.String(), "Unknown command: launch"))
}

func TestCommandErrorsArePrinted(t *testing.T) {
	sys := &fakeSystem{err: root.ErrUnknownDevice}
	c, out := newConsole(sys)

	c.Execute(context.Background(), "on pump")
	assert.Assert(t, is.Contains(out.String(), "Error: root: unknown device"))
}

func TestStepPrintsTransitions(t *testing.T) {
	sys := &fakeSystem{}
	c, out := newConsole(sys)

	c.Execute(context.Background(), "step 3")
	assert.Equal(t, sys.steps, 3)
	assert.Assert(t, is.Contains(out.String(), "6ba7b810  Unknown -> Nominal (tick 1)"))
	assert.Assert(t, is.Contains(out.String(), "6ba7b810  Nominal -> BatteryDrain (tick 2)"))
	assert.Assert(t, is.Contains(out.String(), "Stepped 3 tick(s), 1 network(s)"))
}

func TestStatusAndDevices(t *testing.T) {
	network := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	rise := time.Date(2024, time.June, 21, 5, 12, 0, 0, time.UTC)
	set := time.Date(2024, time.June, 21, 18, 48, 0, 0, time.UTC)
	sys := &fakeSystem{snapshot: root.Snapshot{
		Tick: 12345,
		Networks: []root.Network{{
			Status:  power.Status{PID: network, Mode: power.Brownout, Capacity: 1300, Load: 90.5, Shed: 2},
			Members: []string{"hab", "rtg"},
		}},
		Devices: []asset.Status{
			{Name: "rtg", Kind: "rtg", Network: network, Generation: 130},
			{Name: "bank", Kind: "battery", Stored: 250, Capacity: 1000},
			{Name: "array", Kind: "pv", Generation: 40, Sunrise: &rise, Sunset: &set},
		},
	}}
	c, out := newConsole(sys)

	c.Execute(context.Background(), "status")
	c.Execute(context.Background(), "devices")

	text := out.String()
	assert.Assert(t, is.Contains(text, "Tick 12,345, 1 networks"))
	assert.Assert(t, is.Contains(text, "Brownout"))
	assert.Assert(t, is.Contains(text, "capacity 1,300.00"))
	assert.Assert(t, is.Contains(text, "shed 2"))
	assert.Assert(t, is.Contains(text, "members: hab, rtg"))
	assert.Assert(t, is.Contains(text, "generation 130.00"))
	assert.Assert(t, is.Contains(text, "stored 250.00/1,000.00"))
	assert.Assert(t, is.Contains(text, "daylight 05:12-18:48"))
}

func TestQuit(t *testing.T) {
	c, _ := newConsole(&fakeSystem{})
	assert.Assert(t, c.Execute(context.Background(), "quit"))
	assert.Assert(t, c.Execute(context.Background(), "q"))
	assert.Assert(t, !c.Execute(context.Background(), ""))
}
