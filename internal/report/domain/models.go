package domain

import "context"

type Service interface {
	// BuildUserReport renders the nightly digest for one bot user,
	// covering every identity registered to them. Returns "" when the
	// user has nothing to report.
	BuildUserReport(ctx context.Context, userID int64) (string, error)

	// BuildAdminReport renders the fleet-wide summary for operators.
	BuildAdminReport(ctx context.Context) (string, error)

	// SendNightly delivers user digests to every subscriber and the
	// summary to the admins.
	SendNightly(ctx context.Context) error
}
