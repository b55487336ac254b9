package log

import (
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"
)

// toFields converts logr-style key/value arguments to zap fields. A bare
// error or zap.Field may appear in any position. A trailing value without a
// key is kept under "arg#<index>".
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); i++ {
		switch v := args[i].(type) {
		case zap.Field:
			fields = append(fields, v)
			continue
		case error:
			fields = append(fields, zap.Error(v))
			continue
		}

		if i == len(args)-1 {
			fields = append(fields, zap.Any(fmt.Sprintf("arg#%d", i), args[i]))
			break
		}

		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("invalid_key_%v", args[i])
		}
		fields = append(fields, toField(key, args[i+1]))
		i++
	}
	return fields
}

func toField(key string, val any) zap.Field {
	switch v := val.(type) {
	case time.Time, time.Duration:
		return zap.Any(key, v)
	case error:
		return zap.NamedError(key, v)
	case fmt.Stringer:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return zap.String(key, "<nil>")
		}
		return zap.Stringer(key, v)
	}

	// Named string types such as ECU or setup identifiers.
	if rv := reflect.ValueOf(val); rv.Kind() == reflect.String {
		return zap.String(key, rv.String())
	}
	return zap.Any(key, val)
}
