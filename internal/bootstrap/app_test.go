package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"agentkb/internal/config"
)

// Construction failures release whatever was opened by closing a
// partially built App, so Close must tolerate any subset of fields
// being nil.
func TestClosePartiallyConstructedApp(t *testing.T) {
	assert.NoError(t, (&App{}).Close())
	assert.NoError(t, (&App{Config: &config.Config{}}).Close())
}
