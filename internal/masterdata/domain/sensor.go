package masterdata

// SensorKind identifies the hardware a device carries.
type SensorKind string

const (
	SensorKindEnvironmental SensorKind = "bme680"
	SensorKindCamera        SensorKind = "camera"
	SensorKindCombined      SensorKind = "camera_bme680"
)
