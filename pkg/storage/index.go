package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// setAdd adds member to the sorted JSON string set stored under key.
func setAdd(ctx context.Context, kv KV, key, member string) error {
	return kv.Update(ctx, key, func(current []byte, exists bool) ([]byte, error) {
		members, err := decodeSet(current, exists)
		if err != nil {
			return nil, fmt.Errorf("corrupt index %s: %w", key, err)
		}
		i := sort.SearchStrings(members, member)
		if i < len(members) && members[i] == member {
			return current, nil
		}
		members = append(members, "")
		copy(members[i+1:], members[i:])
		members[i] = member
		return json.Marshal(members)
	})
}

// setRemove removes member from the set under key, deleting the key when
// the set becomes empty.
func setRemove(ctx context.Context, kv KV, key, member string) error {
	return kv.Update(ctx, key, func(current []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, nil
		}
		members, err := decodeSet(current, exists)
		if err != nil {
			return nil, fmt.Errorf("corrupt index %s: %w", key, err)
		}
		out := members[:0]
		for _, m := range members {
			if m != member {
				out = append(out, m)
			}
		}
		if len(out) == 0 {
			return nil, nil
		}
		return json.Marshal(out)
	})
}

// setMembers returns the members of the set under key.
func setMembers(ctx context.Context, kv KV, key string) ([]string, error) {
	data, err := kv.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	members, err := decodeSet(data, true)
	if err != nil {
		return nil, fmt.Errorf("corrupt index %s: %w", key, err)
	}
	return members, nil
}

func decodeSet(data []byte, exists bool) ([]string, error) {
	if !exists || len(data) == 0 {
		return []string{}, nil
	}
	var members []string
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}
