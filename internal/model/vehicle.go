package model

import "time"

// VehicleState mirrors a Track's lifetime and carries the fused decision
// about whether it is registered, its locked beacon (if any), and its
// recognised plate (if civilian). It is cleaned up when the Track is
// Removed (spec.md §3).
type VehicleState struct {
	TrackID       int64
	Group         ClassGroup
	ClassName     string
	BeaconMac     string // empty if unlocked
	Registered    bool
	EnvironmentCode string
	Owner         string
	Plate         string
	PlateScore    float64
	PlatePending  bool
	LastSnapshot  string
	LoiterStart   time.Time
	LoiterStartSet bool
	Reported      bool // construction+registered or civilian identified already emitted once
}

// AlertStatus is the cloud-facing status enum from spec.md §3/§6.
type AlertStatus string

const (
	StatusRegistered  AlertStatus = "registered"
	StatusUnregistered AlertStatus = "unregistered"
	StatusIdentified  AlertStatus = "identified"
	StatusIdentifying AlertStatus = "identifying"
	StatusFailed      AlertStatus = "failed"
	StatusProcessing  AlertStatus = "processing"
)

// VehicleType is the cloud payload's vehicle_type enum (spec.md §6).
type VehicleType string

const (
	VehicleTypeConstruction VehicleType = "construction_vehicle"
	VehicleTypeSocial       VehicleType = "social_vehicle"
)

func (g ClassGroup) VehicleType() VehicleType {
	if g == ClassGroupCivilian {
		return VehicleTypeSocial
	}
	return VehicleTypeConstruction
}

// AlertCandidate is what Fusion emits before the AlertGate decides whether
// it becomes a durable AlertEvent.
type AlertCandidate struct {
	TrackID       int64
	Group         ClassGroup
	ClassName     string
	Status        AlertStatus
	Registered    bool
	Box           [4]float64 // x1,y1,x2,y2
	BeaconMac     string
	Plate         string
	Distance      float64
	Confidence    float64
	EnvironmentCode string
	Owner         string
	Metadata      map[string]any
}

// AlertEvent is a durable, queued record of an admitted alert candidate,
// enqueued once per promotion event and deleted after successful upload
// (spec.md §3).
type AlertEvent struct {
	ID              int64 // local autoincrement id, not the cloud id
	Timestamp       time.Time
	VehicleType     VehicleType
	DetectedClass   string
	Status          AlertStatus
	Registered      bool
	Box             *[4]float64
	TrackID         int64
	BeaconMac       string
	Plate           string
	Distance        float64
	Confidence      float64
	EnvironmentCode string
	Owner           string
	Metadata        map[string]any
	SnapshotPath    string
	SnapshotURL     string
	CloudAlertID    int64
	RetryCount      int
	Uploaded        bool
}
