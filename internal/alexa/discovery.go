package alexa

import (
	"github.com/samber/lo"

	"github.com/fisaks/tvbridge/internal/config"
)

type DiscoveryPayload struct {
	Endpoints []EndpointDescriptor `json:"endpoints"`
}

type EndpointDescriptor struct {
	EndpointID        string       `json:"endpointId"`
	ManufacturerName  string       `json:"manufacturerName"`
	FriendlyName      string       `json:"friendlyName"`
	Description       string       `json:"description"`
	DisplayCategories []string     `json:"displayCategories"`
	Capabilities      []Capability `json:"capabilities"`
}

// Capability is one interface of the endpoint. Alexa.StepSpeaker v1.0
// only accepts its properties under the flat "properties.supported" key.
type Capability struct {
	Type                 string                `json:"type"`
	Interface            string                `json:"interface"`
	Version              string                `json:"version"`
	Properties           *CapabilityProperties `json:"properties,omitempty"`
	StepSpeakerSupported []SupportedProperty   `json:"properties.supported,omitempty"`
}

type CapabilityProperties struct {
	Supported           []SupportedProperty `json:"supported"`
	ProactivelyReported bool                `json:"proactivelyReported"`
	Retrievable         bool                `json:"retrievable"`
}

type SupportedProperty struct {
	Name string `json:"name"`
}

func supported(names ...string) []SupportedProperty {
	return lo.Map(names, func(n string, _ int) SupportedProperty { return SupportedProperty{Name: n} })
}

// DefaultEndpoint is the TV as the skill has always announced it.
func DefaultEndpoint() EndpointDescriptor {
	return EndpointDescriptor{
		EndpointID:        "tvcontrollerid",
		ManufacturerName:  "Vova Company",
		FriendlyName:      "TV",
		Description:       "Living room TV",
		DisplayCategories: []string{"TV"},
		Capabilities:      Capabilities(),
	}
}

func EndpointFromConfig(c config.EndpointConfig) EndpointDescriptor {
	e := DefaultEndpoint()
	if c.ID != "" {
		e.EndpointID = c.ID
	}
	if c.FriendlyName != "" {
		e.FriendlyName = c.FriendlyName
	}
	if c.ManufacturerName != "" {
		e.ManufacturerName = c.ManufacturerName
	}
	if c.Description != "" {
		e.Description = c.Description
	}
	return e
}

// Capabilities lists the interfaces the TV controller supports. StepSpeaker
// is used instead of Speaker since the remote cannot report the volume.
func Capabilities() []Capability {
	return []Capability{
		{Type: "AlexaInterface", Interface: "Alexa", Version: "3"},
		{
			Type:                 "AlexaInterface",
			Interface:            "Alexa.StepSpeaker",
			Version:              "1.0",
			StepSpeakerSupported: supported("muted", "volumeSteps"),
		},
		{
			Type:      "AlexaInterface",
			Interface: "Alexa.InputController",
			Version:   "3",
			Properties: &CapabilityProperties{
				Supported:   supported("input"),
				Retrievable: true,
			},
		},
		{Type: "AlexaInterface", Interface: "Alexa.PowerController", Version: "3"},
	}
}
