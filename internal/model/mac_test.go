package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeMacAccepted(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"aa:bb:cc:dd:ee:ff", "AA:BB:CC:DD:EE:FF"},
		{"AA-BB-CC-DD-EE-FF", "AA:BB:CC:DD:EE:FF"},
		{"aabbccddeeff", "AA:BB:CC:DD:EE:FF"},
		{"AA BB CC DD EE FF", "AA:BB:CC:DD:EE:FF"},
	}
	for _, c := range cases {
		got, err := NormalizeMac(c.in)
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}

func TestNormalizeMacRejectsGarbage(t *testing.T) {
	_, err := NormalizeMac("not-a-mac")
	require.Error(t, err)
	_, err = NormalizeMac("aa:bb:cc:dd:ee")
	require.Error(t, err)
}

func TestNormalizeMacIdempotent(t *testing.T) {
	inputs := []string{
		"aa:bb:cc:dd:ee:ff",
		"AA-BB-CC-DD-EE-FF",
		"aabbccddeeff",
		"11:22:33:44:55:66",
	}
	for _, in := range inputs {
		once, err := NormalizeMac(in)
		require.NoError(t, err)
		twice, err := NormalizeMac(once)
		require.NoError(t, err)
		require.Equal(t, once, twice, "norm(norm(x)) must equal norm(x) for %q", in)
	}
}

func TestNormalizeMacCaseInsensitive(t *testing.T) {
	upper, err := NormalizeMac("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	lower, err := NormalizeMac("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	require.Equal(t, upper, lower)
	require.Equal(t, strings.ToUpper(lower), lower)
}
