package featureflag

type Flag string

const (
	FlagClampInvalidSpecies      Flag = "CLAMP_INVALID_SPECIES"
	FlagDisableInspectionStream  Flag = "DISABLE_INSPECTION_STREAM"
	FlagDisableExportCompression Flag = "DISABLE_EXPORT_COMPRESSION"
)
