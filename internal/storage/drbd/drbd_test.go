package drbd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

type fakeRunner struct {
	calls [][]string
	fail  map[string]string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{fail: map[string]string{}}
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	key := ""
	if len(args) > 0 {
		key = args[0]
	}
	if out, ok := f.fail[key]; ok {
		return out, fmt.Errorf("exit status 1")
	}
	return "", nil
}

func (f *fakeRunner) last() []string {
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func newTestDriver(t *testing.T, runner *fakeRunner) *Driver {
	return &Driver{ConfigDir: t.TempDir(), Runner: runner}
}

func TestResourceNameIsDeterministic(t *testing.T) {
	assert.Equal(t, ResourceName("web", 1), "mcvirt_vm-web-disk-1")
}

func TestDriverLifecycleCommandsUseDrbdadm(t *testing.T) {
	runner := newFakeRunner()
	d := newTestDriver(t, runner)
	ctx := context.Background()

	assert.NilError(t, d.InitialiseMetaData(ctx, "r0"))
	assert.DeepEqual(t, runner.last(), []string{"/sbin/drbdadm", "create-md", "r0"})

	assert.NilError(t, d.Up(ctx, "r0"))
	assert.DeepEqual(t, runner.last(), []string{"/sbin/drbdadm", "up", "r0"})

	assert.NilError(t, d.Connect(ctx, "r0"))
	assert.DeepEqual(t, runner.last(), []string{"/sbin/drbdadm", "connect", "r0"})

	assert.NilError(t, d.SetPrimary(ctx, "r0", true))
	assert.DeepEqual(t, runner.last(), []string{"/sbin/drbdadm", "primary", "r0", "--force"})

	assert.NilError(t, d.SetSecondary(ctx, "r0"))
	assert.DeepEqual(t, runner.last(), []string{"/sbin/drbdadm", "secondary", "r0"})

	assert.NilError(t, d.Disconnect(ctx, "r0"))
	assert.DeepEqual(t, runner.last(), []string{"/sbin/drbdadm", "disconnect", "r0"})

	assert.NilError(t, d.Down(ctx, "r0"))
	assert.DeepEqual(t, runner.last(), []string{"/sbin/drbdadm", "down", "r0"})
}

func TestDriverAdmWrapsFailureWithOutput(t *testing.T) {
	runner := newFakeRunner()
	runner.fail["up"] = "Device minor in use"
	d := newTestDriver(t, runner)

	err := d.Up(context.Background(), "r0")
	assert.ErrorContains(t, err, "Device minor in use")
}

func TestGenerateConfigWritesResFile(t *testing.T) {
	d := newTestDriver(t, newFakeRunner())

	err := d.GenerateConfig("mcvirt_vm-web-disk-1", ResourceConfig{
		ResourceName: "mcvirt_vm-web-disk-1",
		Minor:        1,
		Port:         7789,
		Nodes: []ResourceNode{
			{Hostname: "alpha", IPAddress: "10.0.0.1", DevicePath: "/dev/mcvirt_vg/mcvirt_vm-web-disk-1"},
			{Hostname: "bravo", IPAddress: "10.0.0.2", DevicePath: "/dev/mcvirt_vg/mcvirt_vm-web-disk-1"},
		},
	})
	assert.NilError(t, err)

	content, err := os.ReadFile(filepath.Join(d.ConfigDir, "mcvirt_vm-web-disk-1.res"))
	assert.NilError(t, err)
	assert.Assert(t, len(content) > 0)
}

func TestRemoveConfigIsIdempotent(t *testing.T) {
	d := newTestDriver(t, newFakeRunner())
	assert.NilError(t, d.GenerateConfig("r0", ResourceConfig{ResourceName: "r0"}))
	assert.NilError(t, d.RemoveConfig("r0"))
	assert.NilError(t, d.RemoveConfig("r0")) // already gone, still succeeds
}
