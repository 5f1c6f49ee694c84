package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gallery/server/internal/models"
)

func TestHashService_Sum(t *testing.T) {
	svc := NewHashService()

	t.Run("known digest", func(t *testing.T) {
		assert.Equal(t, "dffd6021bb2bd5b0af676290809ec3a53191dd81c7f70a4b28688a362182986f", svc.Sum([]byte("Hello, World!")))
	})

	t.Run("different content differs", func(t *testing.T) {
		assert.NotEqual(t, svc.Sum([]byte("Content A")), svc.Sum([]byte("Content B")))
	})
}

func TestHashService_Verify(t *testing.T) {
	svc := NewHashService()
	data := []byte("Hello, World!")
	sum := svc.Sum(data)

	tests := []struct {
		name     string
		expected string
		wantErr  error
	}{
		{"empty skips the check", "", nil},
		{"exact match", sum, nil},
		{"uppercase with prefix", "SHA256:" + strings.ToUpper(sum), nil},
		{"surrounding whitespace", "  " + sum + "\n", nil},
		{"malformed", "not-a-hash", models.ErrInvalidChecksum},
		{"mismatch", svc.Sum([]byte("other")), models.ErrChecksumMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Verify(data, tt.expected)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, sum, got)
		})
	}
}
