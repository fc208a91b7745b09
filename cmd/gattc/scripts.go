package main

import (
	"embed"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
)

// builtinScripts are the scripts run accepts by name.
//
//go:embed scripts/*.lua
var builtinScripts embed.FS

// builtinScriptNames lists the embedded scripts without extension.
func builtinScriptNames() []string {
	entries, err := builtinScripts.ReadDir("scripts")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".lua"))
	}
	sort.Strings(names)
	return names
}

// readScript loads a script file. A name without a matching file falls
// back to the embedded script of that name.
func readScript(name string) (string, error) {
	content, err := os.ReadFile(name)
	if err == nil {
		return string(content), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read script %s: %w", name, err)
	}
	if builtin, berr := builtinScripts.ReadFile(path.Join("scripts", strings.TrimSuffix(name, ".lua")+".lua")); berr == nil {
		return string(builtin), nil
	}
	return "", fmt.Errorf("failed to read script %s: %w (built-in scripts: %s)",
		name, err, strings.Join(builtinScriptNames(), ", "))
}
