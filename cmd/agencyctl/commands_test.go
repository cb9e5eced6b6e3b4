package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddOns(t *testing.T) {
	addOns, err := parseAddOns([]string{"SEO Setup=200000", " Hosting = 50000"})
	require.NoError(t, err)
	require.Len(t, addOns, 2)
	assert.Equal(t, "SEO Setup", addOns[0].Name)
	assert.EqualValues(t, 200000, addOns[0].Price)
	assert.Equal(t, "Hosting", addOns[1].Name)
	assert.EqualValues(t, 50000, addOns[1].Price)

	for _, bad := range []string{"no-price", "=100", "Logo=abc", "Logo=0"} {
		_, err := parseAddOns([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestSeedCatalogRequiresNameAndPrice(t *testing.T) {
	cmd := seedCatalogCmd()
	cmd.SetArgs([]string{"Only name"})
	assert.Error(t, cmd.Execute())
}
