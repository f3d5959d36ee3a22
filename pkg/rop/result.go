package rop

// Result is the outcome of one call: a success, a failure or a
// cancellation. Failures and cancellations may still carry the value they
// were computed for, so callers can tell which input they belong to.
type Result[T any] struct {
	result    T
	err       error
	isSuccess bool
	isCancel  bool
	hasResult bool
}

func Success[T any](r T) Result[T] {
	return Result[T]{
		result:    r,
		isSuccess: true,
		hasResult: true,
	}
}

func Fail[T any](err error) Result[T] {
	return Result[T]{
		err: err,
	}
}

func FailWithResult[T any](err error, res T) Result[T] {
	r := Fail[T](err)
	r.result = res
	r.hasResult = true
	return r
}

func Cancel[T any](err error) Result[T] {
	return Result[T]{
		err:      err,
		isCancel: true,
	}
}

func CancelWithResult[T any](err error, res T) Result[T] {
	r := Cancel[T](err)
	r.result = res
	r.hasResult = true
	return r
}

// From classifies a (value, error) pair: nil error is a success, a
// cancellation error per isCancel is a cancel, anything else a failure.
// The value is kept in every case.
func From[T any](res T, err error, isCancel func(error) bool) Result[T] {
	switch {
	case err == nil:
		return Success(res)
	case isCancel != nil && isCancel(err):
		return CancelWithResult(err, res)
	default:
		return FailWithResult(err, res)
	}
}

func (r Result[T]) Result() T {
	return r.result
}

func (r Result[T]) Err() error {
	return r.err
}

func (r Result[T]) IsSuccess() bool {
	return r.isSuccess
}

func (r Result[T]) IsFailure() bool {
	return !r.isSuccess && !r.isCancel && r.err != nil
}

func (r Result[T]) IsCancel() bool {
	return r.isCancel
}

func (r Result[T]) IsCancelWithResult() bool {
	return r.isCancel && r.hasResult
}

func (r Result[T]) HasResult() bool {
	return r.hasResult
}
