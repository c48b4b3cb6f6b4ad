package winrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Generic ids with published instantiations to check the derivation against.
const (
	piidAsyncOperation = "9fc2b0bb-e446-44e2-aa61-9cab8f636af2"
	piidIterable       = "faa585ea-6214-4217-afda-7f46de5869b3"
)

func TestParameterizedIID(t *testing.T) {
	tests := []struct {
		name      string
		signature string
		want      string
	}{
		{"IAsyncOperation<Boolean>", pinterface(piidAsyncOperation, "b1"), "cdb5efb3-5788-509d-9be1-71ccb8a3362a"},
		{"IIterable<String>", pinterface(piidIterable, "string"), "e2fcc7c1-3bfc-5a0b-b2b0-72e769d1cb7e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parameterizedIID(tt.signature).String())
		})
	}
}

func TestHandlerSignatures(t *testing.T) {
	assert.Equal(t,
		"pinterface({9de1c534-6ae1-11e0-84e1-18a905bcc53f};"+
			"rc(Windows.Devices.Geolocation.Geolocator;{a9c3bf62-4524-4989-8aa9-de019d2e551f});"+
			"rc(Windows.Devices.Geolocation.PositionChangedEventArgs;{37859ce5-9d1e-46c5-bf3b-6ad8cac1a093}))",
		positionHandlerSignature)
	assert.NotEqual(t, parameterizedIID(positionHandlerSignature), parameterizedIID(statusHandlerSignature))
	assert.Equal(t, uint8(5), uint8(parameterizedIID(statusHandlerSignature).Version()))
}
