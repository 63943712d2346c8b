package vfs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		dirs     []string
		residual string
	}{
		{
			name:     "bare name",
			path:     "file.txt",
			dirs:     nil,
			residual: "file.txt",
		},
		{
			name:     "one directory",
			path:     "docs/file.txt",
			dirs:     []string{"docs"},
			residual: "file.txt",
		},
		{
			name:     "nested directories",
			path:     "a/b/c/file",
			dirs:     []string{"a", "b", "c"},
			residual: "file",
		},
		{
			name:     "trailing slash",
			path:     "docs/",
			dirs:     []string{"docs"},
			residual: "",
		},
		{
			name:     "empty path",
			path:     "",
			dirs:     nil,
			residual: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dirs, residual := splitPath(tt.path)
			require.Equal(t, tt.dirs, dirs)
			require.Equal(t, tt.residual, residual)
		})
	}
}

func TestValidName(t *testing.T) {
	require.True(t, validName("file.txt"))
	require.True(t, validName(strings.Repeat("x", 255)))

	require.False(t, validName(""))
	require.False(t, validName("a/b"))
	require.False(t, validName("a\x00b"))
	require.False(t, validName(strings.Repeat("x", 256)))
}
