package db

import (
	"errors"
	"testing"
)

func TestError_WrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := error(&Error{Op: OpMGet, Err: cause})

	if err.Error() != "MGET: connection reset" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
}
