package winrt

import (
	"strings"

	"github.com/google/uuid"
)

// pinterfaceNamespace seeds the name-based UUIDs of parameterised WinRT
// interfaces.
var pinterfaceNamespace = uuid.MustParse("11f47ad5-7b73-42c0-abae-878b1e16adee")

// piidTypedEventHandler is the generic id of TypedEventHandler<TSender, TResult>.
const piidTypedEventHandler = "9de1c534-6ae1-11e0-84e1-18a905bcc53f"

// Geolocation runtime classes and their default interfaces.
const (
	classGeolocator     = "Windows.Devices.Geolocation.Geolocator"
	classPositionArgs   = "Windows.Devices.Geolocation.PositionChangedEventArgs"
	classStatusArgs     = "Windows.Devices.Geolocation.StatusChangedEventArgs"
	iidGeolocator       = "a9c3bf62-4524-4989-8aa9-de019d2e551f"
	iidPositionArgs     = "37859ce5-9d1e-46c5-bf3b-6ad8cac1a093"
	iidStatusArgs       = "3453d2da-8c93-4111-a205-9aecfc9be5c0"
	iidGeolocatorStatic = "9a8e7571-2df5-4591-9f87-eb5fd894e9b7"
	iidAsyncInfo        = "00000036-0000-0000-c000-000000000046"
	iidAgileObject      = "94ea2b94-e9cc-49e0-c0ff-ee64ca8f5b90"
)

// runtimeClass is the signature of a runtime class through its default
// interface.
func runtimeClass(name, defaultIID string) string {
	return "rc(" + name + ";{" + strings.ToLower(defaultIID) + "})"
}

// pinterface is the signature of a generic interface instantiation.
func pinterface(piid string, args ...string) string {
	return "pinterface({" + strings.ToLower(piid) + "};" + strings.Join(args, ";") + ")"
}

// parameterizedIID derives the interface id of a generic instantiation from
// its signature.
func parameterizedIID(signature string) uuid.UUID {
	return uuid.NewSHA1(pinterfaceNamespace, []byte(signature))
}

var (
	positionHandlerSignature = pinterface(piidTypedEventHandler,
		runtimeClass(classGeolocator, iidGeolocator),
		runtimeClass(classPositionArgs, iidPositionArgs))
	statusHandlerSignature = pinterface(piidTypedEventHandler,
		runtimeClass(classGeolocator, iidGeolocator),
		runtimeClass(classStatusArgs, iidStatusArgs))
)
