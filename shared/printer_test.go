package shared

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrinterRejectsMissingHooks(t *testing.T) {
	_, err := NewPrinter("  ")
	assert.Error(t, err)

	_, err = NewPrinter("  ", nil)
	assert.Error(t, err)
}

func TestPrinterIndentsEveryLine(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		ind      int
		newline  bool
		expected string
	}{
		{
			name:     "single line no indent",
			input:    "hello",
			ind:      0,
			newline:  true,
			expected: "hello\n",
		},
		{
			name:     "multi line indented",
			input:    "model: x\nvoice: Zephyr",
			ind:      1,
			newline:  false,
			expected: "│  model: x\n│  voice: Zephyr",
		},
		{
			name:     "double indent",
			input:    "a\nb",
			ind:      2,
			newline:  true,
			expected: "│  │  a\n│  │  b\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			p, err := NewPrinter("│  ", NopWriteCloser(&buf))
			require.NoError(t, err)
			if tt.newline {
				require.NoError(t, p.Writeln(tt.input, tt.ind))
			} else {
				require.NoError(t, p.Write(tt.input, tt.ind))
			}
			assert.Equal(t, tt.expected, buf.String())
		})
	}
}

func TestPrinterFansOut(t *testing.T) {
	var a, b bytes.Buffer
	p, err := NewPrinter("", NopWriteCloser(&a), NopWriteCloser(&b))
	require.NoError(t, err)
	require.NoError(t, p.Writef(0, "state: %s", "active"))
	assert.Equal(t, "state: active\n", a.String())
	assert.Equal(t, a.String(), b.String())
	assert.NoError(t, p.Close())
}
