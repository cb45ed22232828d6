package rtcsdk

import (
	"bytes"
	"log"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/stretchr/testify/require"
)

func TestSetLogger(t *testing.T) {
	resetLibrary(t)
	t.Cleanup(func() { SetLogger(logr.Discard()) })

	var buf bytes.Buffer
	SetLogger(stdr.New(log.New(&buf, "", 0)))

	ref, err := InstancePtr()
	require.NoError(t, err)
	ref.Release()

	require.Contains(t, buf.String(), "media engine initialized")
	require.Contains(t, buf.String(), "media engine shut down")
}
