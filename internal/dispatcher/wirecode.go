package dispatcher

import "github.com/beaconmesh/beacon/internal/domain"

// WireCode maps a domain error kind to the stable numeric result_code
// carried on every response frame. 200 (success) is never produced
// here; it is set directly by connection.NewResponse.
func WireCode(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidArgument:
		return 400
	case domain.KindUnauthorized:
		return 401
	case domain.KindForbidden:
		return 403
	case domain.KindNotFound:
		return 404
	case domain.KindConflict, domain.KindAlreadyExists:
		return 409
	case domain.KindNotLeader:
		return 421
	case domain.KindRateLimited:
		return 429
	case domain.KindTimeout:
		return 504
	case domain.KindUnavailable:
		return 503
	case domain.KindInternal:
		return 500
	default:
		return 500
	}
}
