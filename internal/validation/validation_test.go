package validation_test

import (
	"os"
	"path/filepath"
	"testing"

	"fjacquet/bankfetch/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputFile(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.csv")
	require.NoError(t, os.WriteFile(testFile, []byte("test"), 0600))

	tests := []struct {
		name        string
		path        string
		errContains string
	}{
		{name: "regular file", path: testFile},
		{name: "directory", path: tmpDir, errContains: "not a regular file"},
		{name: "missing", path: filepath.Join(tmpDir, "nope.csv"), errContains: "path does not exist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validation.InputFile(tt.path)
			if tt.errContains != "" {
				assert.ErrorContains(t, err, tt.errContains)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRuleFormat(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{path: "rule.json", want: validation.FormatJSON},
		{path: "rule.yaml", want: validation.FormatYAML},
		{path: "dir/RULE.YML", want: validation.FormatYAML},
		{path: "rule.txt", wantErr: true},
		{path: "rule", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := validation.RuleFormat(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilePermissions(t *testing.T) {
	tests := []struct {
		mode    os.FileMode
		wantErr bool
	}{
		{mode: 0600},
		{mode: 0640},
		{mode: 0644, wantErr: true},
		{mode: 0777, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			err := validation.FilePermissions(tt.mode)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}
