package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// writeStructured encodes v as JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unsupported output format %q", format)
}

// parseHandle accepts decimal or 0x-prefixed attribute handles.
func parseHandle(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid handle %q: must be 0x0001..0xffff", s)
	}
	return uint16(n), nil
}

// parseHandleRange parses "start-end", inclusive.
func parseHandleRange(s string) (start, end uint16, err error) {
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid handle range %q: expected start-end", s)
	}
	if start, err = parseHandle(lo); err != nil {
		return 0, 0, err
	}
	if end, err = parseHandle(hi); err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, fmt.Errorf("invalid handle range %q: end before start", s)
	}
	return start, end, nil
}

func parseHandles(values []string) ([]uint16, error) {
	out := make([]uint16, 0, len(values))
	for _, v := range values {
		h, err := parseHandle(v)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
