package metrics

import (
	"strconv"
	"time"

	metrics "github.com/rcrowley/go-metrics"
)

const (
	defaultExpDecayReservoirSize = 1028
	defaultExpDecayAlpha         = 0.015
)

func newExpDecaySample() metrics.Sample {
	return metrics.NewExpDecaySample(defaultExpDecayReservoirSize, defaultExpDecayAlpha)
}

func createTimer(sample metrics.Sample) metrics.Timer {
	return metrics.NewCustomTimer(metrics.NewHistogram(sample), metrics.NewMeter())
}

func millis(nanos float64) float64 {
	return nanos / float64(time.Millisecond)
}

func percentileKey(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func statusClass(code int) string {
	switch {
	case code == 0:
		return classNull
	case code >= 100 && code < 200:
		return classInfo
	case code >= 200 && code < 300:
		return classSuccess
	case code >= 300 && code < 400:
		return classRedirect
	case code >= 400 && code < 500:
		return classClientError
	case code >= 500 && code < 600:
		return classServerError
	default:
		return classOther
	}
}
