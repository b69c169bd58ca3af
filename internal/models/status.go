package models

// Buyer-facing lifecycle labels derived from the (smdpStatus, esimStatus)
// pair reported by the provisioning provider.
const (
	LabelNew      = "New"
	LabelOnboard  = "Onboard"
	LabelInUse    = "In Use"
	LabelDepleted = "Depleted"
	LabelDeleted  = "Deleted"
	LabelUnknown  = "Unknown"
)

func StatusLabel(smdpStatus, esimStatus string) string {
	switch {
	case esimStatus == "USED_UP":
		return LabelDepleted
	case esimStatus == "DELETED" || smdpStatus == "DELETED":
		return LabelDeleted
	case smdpStatus == "RELEASED" && esimStatus == "GOT_RESOURCE":
		return LabelNew
	case smdpStatus == "ENABLED" && esimStatus == "GOT_RESOURCE":
		return LabelOnboard
	case smdpStatus == "ENABLED" && esimStatus == "IN_USE":
		return LabelInUse
	}
	return LabelUnknown
}

// CanCancel: only never-installed profiles are refundable at the provider.
func CanCancel(smdpStatus, esimStatus string) bool {
	return smdpStatus == "RELEASED" && esimStatus == "GOT_RESOURCE"
}

// CanTopup: the profile must exist at the provider and not be depleted or deleted.
func CanTopup(smdpStatus, esimStatus string) bool {
	smdpOK := smdpStatus == "RELEASED" || smdpStatus == "ENABLED"
	esimOK := esimStatus == "GOT_RESOURCE" || esimStatus == "IN_USE"
	return smdpOK && esimOK
}

// HasUsage: live usage counters only exist once the profile is in use.
func HasUsage(smdpStatus, esimStatus string) bool {
	return StatusLabel(smdpStatus, esimStatus) == LabelInUse
}
