package diag

import "fmt"

type Code uint16

const (
	// UnknownCode is the catch-all for uncategorized diagnostics.
	UnknownCode Code = 0

	// Pipeline and options
	ObfInfo           Code = 1000
	ObfBadOptions     Code = 1001
	ObfBadSeed        Code = 1002
	ObfModuleSkipped  Code = 1003
	ObfPassDisabled   Code = 1004
	ObfModuleRewrites Code = 1005

	// Inter-procedural secret threading
	IPOInfo           Code = 2000
	IPOSurveyRejected Code = 2001
	IPOBadCallSite    Code = 2002

	// Indirect branch rewriting
	IndbrInfo        Code = 3000
	IndbrDegradedKey Code = 3001
	IndbrNoTargets   Code = 3002

	// String encryption
	CseInfo         Code = 4000
	CseEmptyString  Code = 4001
	CseUserRejected Code = 4002
)

func (c Code) String() string {
	return fmt.Sprintf("OBF%04d", uint16(c))
}
