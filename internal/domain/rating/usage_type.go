package rating

// UsageType identifies the kind of metered transaction being rated
type UsageType string

const (
	// UsageTypeVoice is a voice call (CDR), metered in minutes
	UsageTypeVoice UsageType = "VOICE"

	// UsageTypeData is a data session, metered in megabytes
	UsageTypeData UsageType = "DATA"

	// UsageTypeSMS is a text message, metered in messages
	UsageTypeSMS UsageType = "SMS"

	// UsageTypeFeature is a billable feature activation, metered in units
	UsageTypeFeature UsageType = "FEATURE"

	// UsageTypeAPI is an API call, metered in requests
	UsageTypeAPI UsageType = "API"
)

// AllUsageTypes returns all valid usage types
func AllUsageTypes() []UsageType {
	return []UsageType{
		UsageTypeVoice,
		UsageTypeData,
		UsageTypeSMS,
		UsageTypeFeature,
		UsageTypeAPI,
	}
}

// String returns the string representation of UsageType
func (t UsageType) String() string {
	return string(t)
}

// IsValid returns true if the usage type is valid
func (t UsageType) IsValid() bool {
	switch t {
	case UsageTypeVoice, UsageTypeData, UsageTypeSMS, UsageTypeFeature, UsageTypeAPI:
		return true
	}
	return false
}

// Unit returns the default unit of measurement for the usage type
func (t UsageType) Unit() UsageUnit {
	switch t {
	case UsageTypeVoice:
		return UsageUnitMinutes
	case UsageTypeData:
		return UsageUnitMegabytes
	case UsageTypeSMS:
		return UsageUnitMessages
	case UsageTypeAPI:
		return UsageUnitRequests
	default:
		return UsageUnitUnits
	}
}

// DisplayName returns a human-readable name for the usage type
func (t UsageType) DisplayName() string {
	switch t {
	case UsageTypeVoice:
		return "Voice Calls"
	case UsageTypeData:
		return "Data Sessions"
	case UsageTypeSMS:
		return "Text Messages"
	case UsageTypeFeature:
		return "Feature Usage"
	case UsageTypeAPI:
		return "API Calls"
	default:
		return string(t)
	}
}

// ParseUsageType parses a string into a UsageType
func ParseUsageType(s string) (UsageType, bool) {
	t := UsageType(s)
	return t, t.IsValid()
}

// UsageUnit is the unit of measurement for a usage quantity
type UsageUnit string

const (
	UsageUnitMinutes   UsageUnit = "minutes"
	UsageUnitMegabytes UsageUnit = "megabytes"
	UsageUnitMessages  UsageUnit = "messages"
	UsageUnitRequests  UsageUnit = "requests"
	UsageUnitUnits     UsageUnit = "units"
)

// IsValid returns true if the usage unit is valid
func (u UsageUnit) IsValid() bool {
	switch u {
	case UsageUnitMinutes, UsageUnitMegabytes, UsageUnitMessages, UsageUnitRequests, UsageUnitUnits:
		return true
	}
	return false
}

// ServiceType identifies the service a usage event was metered against
type ServiceType string

const (
	// ServiceTypeAny matches any service when used in a pricing rule selector
	ServiceTypeAny ServiceType = "ANY"

	ServiceTypeHostedPBX  ServiceType = "HOSTED_PBX"
	ServiceTypeSIPTrunk   ServiceType = "SIP_TRUNK"
	ServiceTypeMobile     ServiceType = "MOBILE"
	ServiceTypeBroadband  ServiceType = "BROADBAND"
	ServiceTypeManagedIT  ServiceType = "MANAGED_IT"
	ServiceTypeCloudFax   ServiceType = "CLOUD_FAX"
	ServiceTypeConference ServiceType = "CONFERENCING"
)

// IsValid returns true if the service type is valid
func (s ServiceType) IsValid() bool {
	switch s {
	case ServiceTypeAny, ServiceTypeHostedPBX, ServiceTypeSIPTrunk, ServiceTypeMobile,
		ServiceTypeBroadband, ServiceTypeManagedIT, ServiceTypeCloudFax, ServiceTypeConference:
		return true
	}
	return false
}
