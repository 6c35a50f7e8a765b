package console

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkWrites(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf)

	require.NoError(t, s.WriteLive("\r[SPREADARB] btc Δ=0.0100"))
	require.NoError(t, s.WriteReport(time.Date(2026, 3, 4, 5, 6, 7, 0, time.Local), "active=1"))
	require.NoError(t, s.NewLine())

	assert.Equal(t, "\r[SPREADARB] btc Δ=0.0100\n2026-03-04 05:06:07\nactive=1\n\n", buf.String())
}
