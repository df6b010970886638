package protocol

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Default identity of the servo. Central and peripheral must agree on every
// field for discovery to succeed.
const (
	DefaultDisplayName      = "My Awesome Servo"
	DefaultDeviceID         = "269e0082-be19-4e59-9f77-af341b57e1bf"
	DefaultServiceID        = "e853db91-e787-4eeb-ae7c-536d689f5741"
	DefaultCharacteristicID = "01ad6336-32b5-499c-9130-3f989684044c"
)

// DeviceIdentity names the peripheral and its single service/characteristic.
type DeviceIdentity struct {
	DisplayName      string
	DeviceID         uuid.UUID
	ServiceID        uuid.UUID
	CharacteristicID uuid.UUID
}

// DefaultIdentity returns the identity shared by the stock central and
// peripheral configurations.
func DefaultIdentity() DeviceIdentity {
	return DeviceIdentity{
		DisplayName:      DefaultDisplayName,
		DeviceID:         uuid.MustParse(DefaultDeviceID),
		ServiceID:        uuid.MustParse(DefaultServiceID),
		CharacteristicID: uuid.MustParse(DefaultCharacteristicID),
	}
}

// ParseIdentity builds an identity from its string form.
func ParseIdentity(name, deviceID, serviceID, characteristicID string) (DeviceIdentity, error) {
	id := DeviceIdentity{DisplayName: name}
	var err error
	if id.DeviceID, err = uuid.Parse(deviceID); err != nil {
		return DeviceIdentity{}, fmt.Errorf("device id %q: %w", deviceID, err)
	}
	if id.ServiceID, err = uuid.Parse(serviceID); err != nil {
		return DeviceIdentity{}, fmt.Errorf("service id %q: %w", serviceID, err)
	}
	if id.CharacteristicID, err = uuid.Parse(characteristicID); err != nil {
		return DeviceIdentity{}, fmt.Errorf("characteristic id %q: %w", characteristicID, err)
	}
	return id, id.Validate()
}

// Validate checks that every field is set and the service and
// characteristic do not share a UUID.
func (id DeviceIdentity) Validate() error {
	if id.DisplayName == "" {
		return errors.New("display name must not be empty")
	}
	if id.DeviceID == uuid.Nil || id.ServiceID == uuid.Nil || id.CharacteristicID == uuid.Nil {
		return errors.New("device, service and characteristic ids must all be set")
	}
	if id.ServiceID == id.CharacteristicID {
		return errors.New("service and characteristic ids must differ")
	}
	return nil
}
