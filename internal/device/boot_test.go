package device

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestSetBootOrder(t *testing.T) {
	m, editor, _ := newTestManager(t, "web")

	assert.NilError(t, m.SetBootOrder("web", []string{"hd", "cdrom", "network"}))

	spec := editor.domains["web"]
	assert.Equal(t, len(spec.OS.Boot), 3)
	assert.Equal(t, spec.OS.Boot[0].Dev, "hd")
	assert.Equal(t, spec.OS.Boot[1].Dev, "cdrom")
	assert.Equal(t, spec.OS.Boot[2].Dev, "network")
}
