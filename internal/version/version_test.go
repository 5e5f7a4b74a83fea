package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet_Defaults(t *testing.T) {
	b := Get()
	assert.NotEmpty(t, b.Version)
	assert.NotEmpty(t, b.Commit)
	assert.NotEmpty(t, b.Date)
}

func TestBuild_StringAndFields(t *testing.T) {
	b := Build{Version: "v1.2.0", Commit: "abc123", Date: "2025-11-23"}

	assert.Equal(t, "version=v1.2.0 commit=abc123 date=2025-11-23", b.String())
	assert.Equal(t, "v1.2.0", b.LogFields()["version"])
	assert.Equal(t, "abc123", b.LogFields()["commit"])
	assert.Equal(t, Get().String(), String())
}
