package utf7_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emersion/go-imapsession/internal/utf7"
)

func TestEncoder(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{"", ""},
		{"INBOX", "INBOX"},
		{"a&b", "a&-b"},
		{"Entwürfe", "Entw&APw-rfe"},
		{"日本語", "&ZeVnLIqe-"},
		{"~peter/mail/台北/日本語", "~peter/mail/&U,BTFw-/&ZeVnLIqe-"},
		{"\U0001f60a", "&2D3eCg-"},
	}
	for _, tc := range tests {
		out, err := utf7.Encoding.NewEncoder().String(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.out, out)

		back, err := utf7.Encoding.NewDecoder().String(out)
		require.NoError(t, err, out)
		assert.Equal(t, tc.in, back)
	}
}
