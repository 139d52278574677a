package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryMemoryBackend(t *testing.T) {
	f := NewFactory(" Memory ", nil)
	s1, err := f.GetStore()
	require.NoError(t, err)
	s2, err := f.GetStore()
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}

func TestFactoryGormWithoutDB(t *testing.T) {
	_, err := NewFactory(BackendGorm, nil).GetStore()
	assert.Error(t, err)
}

func TestFactoryUnknownBackend(t *testing.T) {
	_, err := NewFactory("bolt", nil).GetStore()
	assert.Error(t, err)
}
