// Package defaults provides the files written by `cassandra init`.
package defaults

import _ "embed"

//go:embed system_prompt.txt
var persona string

// Persona returns the default system prompt.
func Persona() string {
	return persona
}
