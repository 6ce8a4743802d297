package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	pkg, err := c.Get("medium")
	require.NoError(t, err)
	require.Equal(t, int64(250), pkg.Points)
	require.Equal(t, int64(2000), pkg.PriceCents)

	require.Len(t, c.List(), 3)
}

func TestGetUnknownPackage(t *testing.T) {
	c := Default()

	_, err := c.Get("mega")
	require.ErrorIs(t, err, ErrInvalidPackage)
}

func TestFromJSON(t *testing.T) {
	c, err := FromJSON(`[{"id":"promo","name":"Promo","points":500,"price_cents":3000}]`)
	require.NoError(t, err)

	pkg, err := c.Get("promo")
	require.NoError(t, err)
	require.Equal(t, int64(500), pkg.Points)
	require.Len(t, c.List(), 1)

	// Overrides replace the built-ins entirely
	_, err = c.Get("medium")
	require.ErrorIs(t, err, ErrInvalidPackage)
}

func TestFromJSONRejectsInvalid(t *testing.T) {
	_, err := FromJSON(`not json`)
	require.Error(t, err)

	_, err = FromJSON(`[]`)
	require.Error(t, err)

	_, err = FromJSON(`[{"id":"zero","name":"Zero","points":0,"price_cents":100}]`)
	require.Error(t, err)
}
