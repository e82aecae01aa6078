package poller

import (
	"sync"
	"time"

	"github.com/fpluis/flipance-sub000/internal/metrics"
)

// DefaultRateWindowSize 限速滑动窗口长度
const DefaultRateWindowSize = 10

// RateLimiter 自适应出站限速。
//
// 维护最近若干批次的请求速度 (请求/毫秒)，按当前隐含速度与
// 目标速度的比值折算等待时长。一批集合返回异常快时等待自动变长，
// 不依赖固定 sleep。
type RateLimiter struct {
	mu          sync.Mutex
	speeds      []float64
	windowSize  int
	targetSpeed float64 // 请求/毫秒
}

// NewRateLimiter 创建限速器，target 为每分钟请求预算
func NewRateLimiter(targetPerMinute int, windowSize int) *RateLimiter {
	if targetPerMinute <= 0 {
		targetPerMinute = 120
	}
	if windowSize <= 0 {
		windowSize = DefaultRateWindowSize
	}
	return &RateLimiter{
		windowSize:  windowSize,
		targetSpeed: float64(targetPerMinute) / float64(time.Minute.Milliseconds()),
	}
}

// Delay 返回下一批请求前需要等待的时长。
//
// currentSpeed 是窗口均值并入本批观测后的隐含速度，
// delay = (currentSpeed/targetSpeed)*elapsed - elapsed，非正视为无需等待。
func (r *RateLimiter) Delay(requests int, elapsed time.Duration) time.Duration {
	elapsedMs := float64(elapsed.Milliseconds())
	if elapsedMs <= 0 {
		elapsedMs = 1
	}

	r.mu.Lock()
	observed := float64(requests) / elapsedMs
	r.speeds = append(r.speeds, observed)
	if len(r.speeds) > r.windowSize {
		r.speeds = r.speeds[len(r.speeds)-r.windowSize:]
	}

	var sum float64
	for _, s := range r.speeds {
		sum += s
	}
	currentSpeed := sum / float64(len(r.speeds))
	r.mu.Unlock()

	delayMs := (currentSpeed/r.targetSpeed)*elapsedMs - elapsedMs
	if delayMs <= 0 {
		metrics.RateLimitDelayGauge.Set(0)
		return 0
	}

	delay := time.Duration(delayMs) * time.Millisecond
	metrics.RateLimitDelayGauge.Set(delay.Seconds())
	return delay
}
