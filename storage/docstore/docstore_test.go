package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/storage/docstore/memdocs"
	"github.com/trezcool/masomo-live/tests"
)

func TestOpen(t *testing.T) {
	conf := &core.Config{Live: core.LiveConfig{Backend: core.BackendMemory}}
	store, closeFn, err := Open(context.Background(), conf, testutil.NewLogger())
	require.NoError(t, err)
	assert.IsType(t, &memdocs.DB{}, store)
	assert.NoError(t, closeFn())

	conf.Live.Backend = "redis"
	_, _, err = Open(context.Background(), conf, testutil.NewLogger())
	assert.EqualError(t, err, `unknown live backend "redis"`)
}
