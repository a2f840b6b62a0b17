package atom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomValidate(t *testing.T) {
	ok := Atom{ID: "a1", Group: "df", Element: "transform"}
	require.NoError(t, ok.Validate())

	bad := []Atom{
		{ID: "a1", Group: "data", Element: "x"},
		{ID: "a1", Group: "DF", Element: "x"},
		{ID: "a1", Group: "df", Element: ""},
		{ID: "", Group: "df", Element: "x"},
		{ID: "a1", Group: "df", Element: "x", Priority: 11},
	}
	for _, a := range bad {
		assert.Error(t, a.Validate(), "%+v", a)
	}
}

func TestEffectivePriority(t *testing.T) {
	a := Atom{}
	assert.Equal(t, DefaultPriority, a.EffectivePriority())
	a.Priority = 9
	assert.Equal(t, 9, a.EffectivePriority())
}

func TestKeyRoundTrip(t *testing.T) {
	k := NewKey("df", "transform", "v2")
	assert.Equal(t, "df:transform:v2", k.String())

	parsed, err := ParseKey("df:transform:v2")
	require.NoError(t, err)
	assert.Equal(t, k, parsed)

	k2, err := ParseKey("cf:ping")
	require.NoError(t, err)
	assert.Equal(t, Key{Group: "cf", Element: "ping"}, k2)

	_, err = ParseKey("nogroup")
	assert.Error(t, err)
}

func TestCallerChain(t *testing.T) {
	a := Atom{ID: "a1", Group: "df", Element: "transform"}
	assert.Nil(t, a.CallerChain())

	a = a.WithCallerChain("cf:ping")
	assert.Equal(t, []string{"cf:ping"}, a.CallerChain())

	a = a.WithCallerChain("df:validate")
	assert.Equal(t, []string{"cf:ping", "df:validate"}, a.CallerChain())
}
