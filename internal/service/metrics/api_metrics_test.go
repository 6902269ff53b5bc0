package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"FinGate/internal/domain/models"
)

func TestKind(t *testing.T) {
	assert.Equal(t, KindInvalid, Kind(fmt.Errorf("%w: symbols", models.ErrInvalidRequest)))
	assert.Equal(t, KindNoData, Kind(models.ErrNoData))
	assert.Equal(t, KindUnavailable, Kind(models.ErrServiceClosed))
	assert.Equal(t, KindUnavailable, Kind(models.ErrNotInitialized))
	assert.Equal(t, KindInternal, Kind(errors.New("boom")))
}

func TestObserve_CountsErrorsByKind(t *testing.T) {
	before := testutil.ToFloat64(APIErrors.WithLabelValues("prices", KindNoData))
	Observe("prices", time.Now(), models.ErrNoData)
	Observe("prices", time.Now(), nil)
	assert.Equal(t, before+1, testutil.ToFloat64(APIErrors.WithLabelValues("prices", KindNoData)))
}
