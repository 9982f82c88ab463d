package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter - Token Bucket для ограничения частоты открытия сессий у провайдера.
//
// Ведро наполняется со скоростью rate токенов/сек до ёмкости burst.
// Каждое открытие сессии (login + подключение фида) тратит один токен,
// поэтому всплеск новых логинов после рестарта не упирается в лимиты login API.
//
//	limiter := NewRateLimiter(5, 10) // 5 логинов/сек, burst 10
//	if err := limiter.Wait(ctx); err != nil { ... }
type RateLimiter struct {
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewRateLimiter создаёт limiter. burst < rate поднимается до rate.
func NewRateLimiter(rate, burst float64) *RateLimiter {
	if rate <= 0 {
		rate = 5
	}
	if burst < rate {
		burst = rate
	}

	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// refill пополняет токены; вызывается под lock'ом
func (rl *RateLimiter) refill() {
	now := rl.now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastRefill = now
}

// take забирает токен или возвращает время до появления следующего
func (rl *RateLimiter) take() (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return true, 0
	}
	return false, time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
}

// Wait блокирует до получения токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		ok, wait := rl.take()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Allow забирает токен без ожидания
func (rl *RateLimiter) Allow() bool {
	ok, _ := rl.take()
	return ok
}
