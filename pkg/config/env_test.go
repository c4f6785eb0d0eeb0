package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("SG_TEST_SET", "value")
	t.Setenv("SG_TEST_EMPTY", "")

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"set variable", "addr: ${SG_TEST_SET}", "addr: value"},
		{"unset variable", "addr: ${SG_TEST_UNSET}", "addr: "},
		{"unset with default", "addr: ${SG_TEST_UNSET:-fallback}", "addr: fallback"},
		{"set with default", "addr: ${SG_TEST_SET:-fallback}", "addr: value"},
		{"empty uses default", "addr: ${SG_TEST_EMPTY:-fallback}", "addr: fallback"},
		{"multiple", "${SG_TEST_SET}:${SG_TEST_UNSET:-x}", "value:x"},
		{"no reference", "plain text", "plain text"},
		{"dollar without braces", "cost: $5", "cost: $5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExpandEnv(tc.in))
		})
	}
}
