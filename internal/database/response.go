// Package database implements the online-first-with-queued-fallback policy
// shared by every entity repository.
//
// Repository methods never surface a raw remote error: every call resolves
// to a Response whose Success flag tells the caller whether the data came
// from a live remote operation or a degraded local path.
package database

import "errors"

// ErrOfflineNoFallback is returned when the remote is unavailable and the
// operation has no offline fallback.
var ErrOfflineNoFallback = errors.New("remote unavailable and no offline fallback")

// Response is the result of any repository operation.
//
// Success is true iff Data is set and Err is nil, with one exception: when
// an online operation fails but an offline fallback produced data, Data is
// the fallback value, Err keeps the original remote error and Success is
// false. Callers branch on Success to decide whether to flag the data as
// possibly stale.
type Response[T any] struct {
	Data    *T
	Err     error
	Success bool
}

// Ok builds a successful response.
func Ok[T any](data *T) Response[T] {
	return Response[T]{Data: data, Success: true}
}

// Fail builds a failed response with no data.
func Fail[T any](err error) Response[T] {
	return Response[T]{Err: err}
}

// Degraded builds a fallback response: data served locally after a remote
// failure, original error preserved.
func Degraded[T any](data *T, err error) Response[T] {
	return Response[T]{Data: data, Err: err}
}
