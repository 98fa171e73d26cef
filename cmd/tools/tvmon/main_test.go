package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_describe(t *testing.T) {
	assert.Equal(t, "power:ON -> power on=true", describe([]byte("power:ON")))
	assert.Equal(t, `input:XBOX -> input "xbox"`, describe([]byte("input:XBOX")))
	assert.Equal(t, "volume:3 -> volume +3", describe([]byte("volume:3")))
	assert.Equal(t, "mute:False -> muted=false", describe([]byte("mute:False")))
	assert.Contains(t, describe([]byte("garbage")), "dropped")
}
