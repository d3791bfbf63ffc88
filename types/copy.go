package types

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/mohae/deepcopy"
)

// ErrStateNotCopyable is returned for state types whose unexported fields a
// deep copy would silently drop.
var ErrStateNotCopyable = errors.New("state type cannot be deep-copied")

var (
	copierType = reflect.TypeOf((*deepcopy.Interface)(nil)).Elem()
	timeType   = reflect.TypeOf(time.Time{})
)

// DeepCopy returns an independent copy of v. Values implementing
// deepcopy.Interface copy themselves. A nil interface comes back as is.
func DeepCopy[T any](v T) T {
	c, ok := deepcopy.Copy(v).(T)
	if !ok {
		return v
	}
	return c
}

// CheckCopyable verifies that DeepCopy preserves every field of T: T either
// implements deepcopy.Interface or reaches no unexported struct field.
func CheckCopyable[T any]() error {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if path, ok := hiddenField(t, map[reflect.Type]bool{}); ok {
		return fmt.Errorf("%w: %s has unexported field %s; implement deepcopy.Interface (DeepCopy() interface{})",
			ErrStateNotCopyable, t, path)
	}
	return nil
}

// hiddenField finds an unexported struct field reachable from t that a
// reflective copy cannot see.
func hiddenField(t reflect.Type, seen map[reflect.Type]bool) (string, bool) {
	if seen[t] {
		return "", false
	}
	seen[t] = true
	if t.Implements(copierType) || t == timeType {
		return "", false
	}

	switch t.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Array:
		return hiddenField(t.Elem(), seen)
	case reflect.Map:
		if path, ok := hiddenField(t.Key(), seen); ok {
			return path, ok
		}
		return hiddenField(t.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				return t.Name() + "." + f.Name, true
			}
			if path, ok := hiddenField(f.Type, seen); ok {
				return path, ok
			}
		}
	}
	return "", false
}
