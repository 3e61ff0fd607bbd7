package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
	Count int      `json:"count,omitempty"`
}

func TestLoadFromBytes(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		data    string
		want    doc
		wantErr string
	}{
		{
			name: "yaml",
			path: "req.yaml",
			data: "name: demo\nitems:\n  - m1\n  - m2\ncount: 2\n",
			want: doc{Name: "demo", Items: []string{"m1", "m2"}, Count: 2},
		},
		{
			name: "json",
			path: "req.json",
			data: `{"name":"demo","items":["m1"]}`,
			want: doc{Name: "demo", Items: []string{"m1"}},
		},
		{
			name: "unknown extension falls back",
			path: "req.txt",
			data: `{"name":"demo","items":[]}`,
			want: doc{Name: "demo", Items: []string{}},
		},
		{
			name:    "unknown field rejected",
			path:    "req.yaml",
			data:    "name: demo\nbogus: 1\n",
			wantErr: "unknown field",
		},
		{
			name:    "empty",
			path:    "req.yaml",
			data:    "  \n",
			wantErr: "empty",
		},
		{
			name:    "invalid json",
			path:    "req.json",
			data:    "{",
			wantErr: "invalid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got doc
			err := LoadFromBytes([]byte(tt.data), tt.path, &got)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.yml")
	require.NoError(t, os.WriteFile(path, []byte("name: file\n"), 0644))

	var got doc
	require.NoError(t, Load(path, &got))
	assert.Equal(t, "file", got.Name)

	err := Load(filepath.Join(dir, "missing.yaml"), &got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadFromReader(t *testing.T) {
	var got doc
	require.NoError(t, LoadFromReader(strings.NewReader("name: r\n"), "", &got))
	assert.Equal(t, "r", got.Name)
}
