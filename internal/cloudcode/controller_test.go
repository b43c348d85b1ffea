package cloudcode

import (
	"testing"

	relerrors "github.com/anthropics/cloudcode-relay/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestClassify_AuthFailurePromotedFrom401(t *testing.T) {
	kind := classify(401, "invalid_grant: token revoked")
	require.Equal(t, relerrors.KindAuthFailed, kind)
}

func TestClassify_NonAuthStatusFallsThroughToUpstreamClassifier(t *testing.T) {
	kind := classify(500, "boom")
	require.Equal(t, relerrors.ClassifyUpstream(500, "boom"), kind)
}

func TestClassify_ModelCapacityPromotedFrom429(t *testing.T) {
	kind := classify(429, "model is currently overloaded")
	require.Equal(t, relerrors.KindQuotaExhausted, kind)
}

func TestClassify_PlainRateLimitFrom429FallsThroughToUpstreamClassifier(t *testing.T) {
	kind := classify(429, "rate limit exceeded, too many requests")
	require.Equal(t, relerrors.KindRateLimited, kind)
}
