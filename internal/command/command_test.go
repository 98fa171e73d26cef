package command_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisaks/tvbridge/internal/command"
)

func Test_Decode(t *testing.T) {
	tests := []struct {
		msg  string
		want command.Command
	}{
		{"power:ON", command.NewPower(true)},
		{"power:OFF", command.NewPower(false)},
		{"power:on", command.NewPower(false)},
		{"volume:-3", command.NewVolume(-3)},
		{"volume:5", command.NewVolume(5)},
		{"volume:0", command.NewVolume(0)},
		{"input:XBOX", command.NewInput("xbox")},
		{"input:Roku", command.NewInput("roku")},
		{"mute:True", command.NewMute(true)},
		{"mute:False", command.NewMute(false)},
		{"mute:nope", command.NewMute(false)},
		{"mute:true", command.NewMute(false)},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got, err := command.Decode(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func Test_Decode_Errors(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{"no separator", "garbage"},
		{"empty", ""},
		{"empty kind", ":ON"},
		{"empty argument", "power:"},
		{"unknown kind", "channel:5"},
		{"upper case kind", "POWER:ON"},
		{"volume not a number", "volume:loud"},
		{"volume float", "volume:1.5"},
		{"separator in input", "input:HDMI:3"},
		{"trailing field", "power:ON:x"},
		{"only separators", "::"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := command.Decode(tt.msg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, command.ErrParse))

			var perr *command.ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.msg, perr.Message)
		})
	}
}

func Test_Encode(t *testing.T) {
	assert.Equal(t, "power:ON", command.Encode(command.NewPower(true)))
	assert.Equal(t, "power:OFF", command.Encode(command.NewPower(false)))
	assert.Equal(t, "input:XBOX", command.Encode(command.NewInput("XBOX")))
	assert.Equal(t, "volume:-2", command.Encode(command.NewVolume(-2)))
	assert.Equal(t, "volume:25", command.Encode(command.NewVolume(25)))
	assert.Equal(t, "mute:True", command.Encode(command.NewMute(true)))
	assert.Equal(t, "mute:False", command.Encode(command.NewMute(false)))
}

func Test_RoundTrip(t *testing.T) {
	commands := []command.Command{
		command.NewPower(true),
		command.NewPower(false),
		command.NewInput("xbox"),
		command.NewInput("netflix"),
		command.NewInput("unknown-device"),
		command.NewVolume(7),
		command.NewVolume(-7),
		command.NewVolume(0),
		command.NewMute(true),
		command.NewMute(false),
	}
	for _, c := range commands {
		t.Run(c.String(), func(t *testing.T) {
			got, err := command.Decode(command.Encode(c))
			require.NoError(t, err)
			assert.Equal(t, c, got)
		})
	}
}

func Test_Kind_String(t *testing.T) {
	assert.Equal(t, "power", command.Power.String())
	assert.Equal(t, "mute", command.Mute.String())
	assert.Equal(t, "kind(9)", command.Kind(9).String())
}
