package store

import (
	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/apierror"
)

var errJobNotFound = apierror.NotFound("sync job")

// GuardOrg asserts a row's organization id matches the caller's scope.
// A mismatch means a query escaped its tenant boundary: that is never a
// caller error, always a defect, so it maps to data integrity.
func GuardOrg(callerOrg, rowOrg uuid.UUID) error {
	if callerOrg != rowOrg {
		return apierror.Newf(apierror.KindDataIntegrity,
			"row owned by organization %s observed in scope of %s", rowOrg, callerOrg)
	}
	return nil
}
