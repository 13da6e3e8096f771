package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"2020-09-13", 1599955200},
		{"2020-09-13T12:26:40Z", 1600000000},
		{"2020-09-13T14:26:40+02:00", 1600000000},
	}
	for _, tt := range tests {
		got, err := parseDate(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"13/09/2020", "2020-13-01", "yesterday"} {
		_, err := parseDate(bad)
		assert.Error(t, err, bad)
	}
}
