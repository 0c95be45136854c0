package zfs

import (
	"context"
	"fmt"
)

// PoolProperty returns the value of a property of the given pool, unset values are returned as an empty string
func PoolProperty(ctx context.Context, pool, key string) (string, error) {
	out, err := zpoolOutput(ctx, "get", "-Hp", "-o", "value", key, pool)
	if err != nil {
		return "", err
	}
	if len(out) == 0 || len(out[0]) == 0 {
		return "", fmt.Errorf("no value for pool property %s of %s", key, pool)
	}
	return setString(out[0][0]), nil
}

// SetPoolProperty sets a property on the given pool
func SetPoolProperty(ctx context.Context, pool, key, val string) error {
	_, err := zpoolOutput(ctx, "set", key+"="+val, pool)
	return err
}

// PoolName returns the pool part of a dataset name
func PoolName(dataset string) string {
	for i := 0; i < len(dataset); i++ {
		switch dataset[i] {
		case '/', '@':
			return dataset[:i]
		}
	}
	return dataset
}
