package model

import "time"

// BeaconReading is a single, tagged observation from the Bluetooth beacon
// scanner. Spec.md §9 calls out "duck-typed beacon records" as a pattern to
// avoid; this is the one tagged record type shared by the scanner and the
// matcher.
type BeaconReading struct {
	Mac              string
	RSSI             float64
	EstimatedDistance float64
	ObservedAt       time.Time
}

// WhitelistEntry is a cloud-issued beacon registration, cached locally and
// never mutated in place (spec.md §3).
type WhitelistEntry struct {
	ID               int64
	BeaconNumber     string
	Mac              string
	MachineType      string
	EnvironmentCode  string
	RegistrationDate time.Time
	EquipmentOwner   string
}
