package rop

import (
	"context"
	"errors"
	"reflect"
)

func IsNil(i interface{}) bool {
	if i == nil || (reflect.ValueOf(i).Kind() == reflect.Ptr && reflect.ValueOf(i).IsNil()) {
		return true
	}
	return false
}

// GetErrors flattens an errors.Join tree one level.
func GetErrors(err error) []error {
	if IsNil(err) {
		return []error{}
	}

	e, ok := err.(interface{ Unwrap() []error })
	if ok {
		return e.Unwrap()
	}

	return []error{err}
}

// JoinFailures joins the errors of every failed or cancelled result.
func JoinFailures[T any](results []Result[T]) error {
	var errs []error
	for _, r := range results {
		if r.Err() != nil {
			errs = append(errs, r.Err())
		}
	}
	return errors.Join(errs...)
}

// IsCancellationError reports context cancellation and any of the extra
// sentinels, such as a killed worker.
func IsCancellationError(err error, extra ...error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	for _, target := range extra {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
