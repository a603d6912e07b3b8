package drbd

import (
	"os"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/mcvirt/mcvirt/internal/config"
	"github.com/mcvirt/mcvirt/internal/mcerrors"
)

// fakeGlobalStore is an in-memory GlobalStore, mirroring the style of
// fakeLibvirt in internal/vm's tests.
type fakeGlobalStore struct {
	doc *config.ClusterDocument
}

func newFakeGlobalStore() *fakeGlobalStore {
	return &fakeGlobalStore{doc: config.NewClusterDocument("alpha", "10.0.0.1", "mcvirt_vg")}
}

func (f *fakeGlobalStore) Read() (*config.ClusterDocument, error) { return f.doc, nil }

func (f *fakeGlobalStore) Update(fn func(*config.ClusterDocument) error, auditMessage string) error {
	return fn(f.doc)
}

func newTestDriverWithInstalled(t *testing.T) *Driver {
	t.Helper()
	return &Driver{
		ConfigDir: t.TempDir(),
		Runner:    newFakeRunner(),
		Installed: func() bool { return true },
	}
}

func TestEnableGeneratesSecretWhenNoneGiven(t *testing.T) {
	store := newFakeGlobalStore()
	driver := newTestDriverWithInstalled(t)

	err := Enable(store, driver, 0, "", true)
	assert.NilError(t, err)
	assert.Equal(t, len(store.doc.DRBD.Secret), secretLength)
	assert.Assert(t, store.doc.DRBD.Enabled)

	content, err := os.ReadFile(GlobalConfigPath(driver.ConfigDir))
	assert.NilError(t, err)
	assert.Assert(t, len(content) > 0)
}

func TestEnableUsesGivenSecretOnPeerInitialisationBranch(t *testing.T) {
	store := newFakeGlobalStore()
	driver := newTestDriverWithInstalled(t)

	err := Enable(store, driver, 0, "fixedsecret12345", false)
	assert.NilError(t, err)
	assert.Equal(t, store.doc.DRBD.Secret, "fixedsecret12345")
}

func TestEnableRejectsReEnableWhenInitiating(t *testing.T) {
	store := newFakeGlobalStore()
	store.doc.DRBD.Enabled = true
	driver := newTestDriverWithInstalled(t)

	err := Enable(store, driver, 0, "", true)
	assert.Assert(t, mcerrors.IsDRBDAlreadyEnabled(err))
}

func TestEnableAllowsReEnableOnPeerInitialisationBranch(t *testing.T) {
	store := newFakeGlobalStore()
	store.doc.DRBD.Enabled = true
	driver := newTestDriverWithInstalled(t)

	err := Enable(store, driver, 0, "fixedsecret12345", false)
	assert.NilError(t, err)
}

func TestEnableRunsAdjustAllWhenResourcesExist(t *testing.T) {
	store := newFakeGlobalStore()
	runner := newFakeRunner()
	driver := &Driver{ConfigDir: t.TempDir(), Runner: runner, Installed: func() bool { return true }}

	err := Enable(store, driver, 2, "fixedsecret12345", true)
	assert.NilError(t, err)
	assert.DeepEqual(t, runner.last(), []string{"/sbin/drbdadm", "adjust", "all"})
}

func TestEnableFailsWhenDrbdNotInstalled(t *testing.T) {
	store := newFakeGlobalStore()
	driver := &Driver{ConfigDir: t.TempDir(), Runner: newFakeRunner(), Installed: func() bool { return false }}

	err := Enable(store, driver, 0, "", true)
	assert.Assert(t, mcerrors.IsDRBDNotInstalled(err))
}

func TestGenerateSecretLengthAndAlphabet(t *testing.T) {
	secret, err := GenerateSecret()
	assert.NilError(t, err)
	assert.Equal(t, len(secret), secretLength)
	for _, r := range secret {
		assert.Assert(t, (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}
}

