// Package command is the compact text protocol carried on the bus topic.
//
// A message is "<kind>:<argument>", for example "power:ON", "input:Roku",
// "volume:-3" or "mute:True". Every message is self-describing; nothing
// from earlier messages is needed to interpret it.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Kind uint8

const (
	Power Kind = iota + 1
	Input
	Volume
	Mute
)

const separator = ":"

const (
	argOn   = "ON"
	argOff  = "OFF"
	argTrue = "True"
	// written for Mute(false); any argument other than argTrue decodes to unmute
	argFalse = "False"
)

var kindNames = map[Kind]string{
	Power:  "power",
	Input:  "input",
	Volume: "volume",
	Mute:   "mute",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func parseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Command is a tagged value; only the field matching Kind is meaningful.
type Command struct {
	Kind  Kind
	On    bool   // Power
	Input string // Input
	Steps int    // Volume, positive is louder
	Muted bool   // Mute
}

func NewPower(on bool) Command     { return Command{Kind: Power, On: on} }
func NewInput(name string) Command { return Command{Kind: Input, Input: name} }
func NewVolume(steps int) Command  { return Command{Kind: Volume, Steps: steps} }
func NewMute(muted bool) Command   { return Command{Kind: Mute, Muted: muted} }

func (c Command) String() string { return Encode(c) }

// Encode renders c in wire form.
func Encode(c Command) string {
	return c.Kind.String() + separator + c.argument()
}

func (c Command) argument() string {
	switch c.Kind {
	case Power:
		if c.On {
			return argOn
		}
		return argOff
	case Input:
		return c.Input
	case Volume:
		return strconv.Itoa(c.Steps)
	case Mute:
		if c.Muted {
			return argTrue
		}
		return argFalse
	default:
		return ""
	}
}

var ErrParse = errors.New("malformed command")

type ParseError struct {
	Message string
	Reason  string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse command %q: %s: %v", e.Message, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse command %q: %s", e.Message, e.Reason)
}

func (e *ParseError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrParse, e.Err}
	}
	return []error{ErrParse}
}

// Decode parses a wire message. It must carry exactly one separator;
// input names are lowercased.
func Decode(msg string) (Command, error) {
	switch strings.Count(msg, separator) {
	case 0:
		return Command{}, &ParseError{Message: msg, Reason: "missing separator"}
	case 1:
	default:
		return Command{}, &ParseError{Message: msg, Reason: "more than one separator"}
	}
	kindText, arg, _ := strings.Cut(msg, separator)
	if kindText == "" || arg == "" {
		return Command{}, &ParseError{Message: msg, Reason: "empty kind or argument"}
	}
	kind, ok := parseKind(kindText)
	if !ok {
		return Command{}, &ParseError{Message: msg, Reason: "unknown kind " + strconv.Quote(kindText)}
	}

	switch kind {
	case Power:
		return NewPower(arg == argOn), nil
	case Input:
		return NewInput(strings.ToLower(arg)), nil
	case Volume:
		steps, err := strconv.Atoi(arg)
		if err != nil {
			return Command{}, &ParseError{Message: msg, Reason: "volume steps", Err: err}
		}
		return NewVolume(steps), nil
	default:
		return NewMute(arg == argTrue), nil
	}
}
