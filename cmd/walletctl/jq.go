package main

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

func compileFilters(filters []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return codes, nil
}

// jqValue converts a typed value into the plain JSON shape gojq expects.
func jqValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// matchAll reports whether every filter yields a truthy first result for v.
func matchAll(codes []*gojq.Code, v any) (bool, error) {
	for _, code := range codes {
		iter := code.Run(v)
		res, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if err, isErr := res.(error); isErr {
			return false, err
		}
		if !isTruthy(res) {
			return false, nil
		}
	}
	return true, nil
}

// runFilter returns every result code yields for v.
func runFilter(code *gojq.Code, v any) ([]any, error) {
	var out []any
	iter := code.Run(v)
	for {
		res, ok := iter.Next()
		if !ok {
			return out, nil
		}
		if err, isErr := res.(error); isErr {
			return nil, err
		}
		out = append(out, res)
	}
}

func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}
